// Package compiler decodes stored definition documents into domain definitions.
package compiler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Parser converts raw JSON or YAML documents into definitions.
type Parser struct {
	logger *slog.Logger
}

// Option configures the Parser.
type Option func(*Parser)

// WithLogger sets the logger used for decoding diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a new parser instance.
func NewParser(opts ...Option) *Parser {
	p := &Parser{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes data stored under id. Documents starting with '{' are read as JSON,
// anything else as YAML.
func (p *Parser) Parse(id string, data []byte) (*domain.Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &domain.DefinitionError{ID: id, Err: domain.ErrInvalidDefinition, Reason: "empty document"}
	}

	var raw map[string]any
	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &raw)
	} else {
		err = yaml.Unmarshal(trimmed, &raw)
	}
	if err != nil {
		return nil, &domain.DefinitionError{ID: id, Reason: "parse", Err: err}
	}
	return p.Decode(id, raw)
}

// Decode maps an already parsed document onto a definition. The store key wins over
// the document's own id field.
func (p *Parser) Decode(id string, raw map[string]any) (*domain.Definition, error) {
	var def domain.Definition
	var md mapstructure.Metadata

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:   &def,
		Metadata: &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			sourceListHook,
			requestRefHook,
			actionTypeHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &domain.DefinitionError{ID: id, Reason: "decode", Err: err}
	}

	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		p.logger.Warn("Ignoring unknown definition keys", "machine_id", id, "keys", strings.Join(md.Unused, ","))
	}

	switch {
	case id == "":
	case def.ID == "":
		def.ID = id
	case def.ID != id:
		p.logger.Warn("Definition id does not match its storage key, using the key",
			"machine_id", id,
			"declared_id", def.ID,
		)
		def.ID = id
	}
	return &def, nil
}

var (
	stringSliceType = reflect.TypeOf([]string{})
	requestRefType  = reflect.TypeOf(domain.RequestRef{})
	actionTypeType  = reflect.TypeOf(domain.ActionType(""))
)

// sourceListHook accepts a single source state where a list is expected.
func sourceListHook(from, to reflect.Type, data any) (any, error) {
	if to != stringSliceType || from.Kind() != reflect.String {
		return data, nil
	}
	return []string{reflect.ValueOf(data).String()}, nil
}

// requestRefHook accepts a request name or an inline request object.
func requestRefHook(_, to reflect.Type, data any) (any, error) {
	if to != requestRefType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return map[string]any{"name": v}, nil
	case map[string]any:
		if _, ok := v["url"]; ok {
			return map[string]any{"inline": v}, nil
		}
	}
	return data, nil
}

// actionTypeHook maps type aliases onto their canonical tag. Unknown tags pass through
// for validation to report.
func actionTypeHook(from, to reflect.Type, data any) (any, error) {
	if to != actionTypeType || from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	if t, ok := domain.NormalizeActionType(s); ok {
		return string(t), nil
	}
	return data, nil
}
