// Package http exposes the runtime as a JSON control surface.
package http

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/switchboard"
	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var rawSpec []byte

// maxDefinitionSize caps PUT bodies.
const maxDefinitionSize = 1 << 20

// placeholderTokens are sample values that must never be accepted as a configured token.
var placeholderTokens = []string{"YOUR_STRONG_API_TOKEN_HERE", "SERVER_TOKEN_MISSING", "changeme"}

// Runtime is the part of switchboard.Runtime the server drives.
type Runtime interface {
	Fire(ctx context.Context, req switchboard.FireRequest) (*switchboard.FireResult, error)
	Machines(ctx context.Context) ([]string, error)
	Graph(ctx context.Context, id string) (machine.Graph, error)
	DOT(ctx context.Context, id string) (string, error)
	Definition(ctx context.Context, id string) ([]byte, error)
	SaveDefinition(ctx context.Context, id string, data []byte) error
	DeleteDefinition(ctx context.Context, id string) error
	Reload(ctx context.Context, id string) error
	Sessions() []domain.SessionInfo
}

var _ Runtime = (*switchboard.Runtime)(nil)

// Server holds the handlers of the control surface.
type Server struct {
	runtime Runtime
	token   string
	metrics http.Handler
	logger  *slog.Logger
	spec    *openapi3.T
}

type Option func(*Server)

// WithToken sets the bearer token required under /api.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Spec parses and validates the embedded API contract.
func Spec(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	return doc, nil
}

// NewHandler builds the router.
func NewHandler(rt Runtime, opts ...Option) (http.Handler, error) {
	spec, err := Spec(context.Background())
	if err != nil {
		return nil, err
	}
	s := &Server{
		runtime: rt,
		logger:  logging.NewNop(),
		spec:    spec,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": strings.TrimSpace(switchboard.Version),
		})
	})
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(rawSpec)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(api chi.Router) {
		api.Use(s.authenticate)
		s.route(api, http.MethodGet, "/api/fsm", false, s.listMachines)
		s.route(api, http.MethodPost, "/api/fsm/{machineId}/transition", false, s.fireTransition)
		s.route(api, http.MethodGet, "/api/fsm/{machineId}/dot", false, s.getDot)
		s.route(api, http.MethodGet, "/api/fsm/{machineId}/graph", false, s.getGraph)
		s.route(api, http.MethodGet, "/api/fsm/{machineId}/definition", false, s.getDefinition)
		s.route(api, http.MethodPut, "/api/fsm/{machineId}/definition", true, s.putDefinition)
		s.route(api, http.MethodDelete, "/api/fsm/{machineId}/definition", false, s.deleteDefinition)
		s.route(api, http.MethodPost, "/api/fsm/{machineId}/reload", false, s.reloadDefinition)
		s.route(api, http.MethodGet, "/api/sessions", false, s.listSessions)
	})
	return r, nil
}

// route registers h and validates every request against the operation declared for path.
// rawBody skips body validation for documents that are stored verbatim.
func (s *Server) route(r chi.Router, method, path string, rawBody bool, h http.HandlerFunc) {
	item := s.spec.Paths.Find(path)
	if item == nil || item.GetOperation(method) == nil {
		panic(fmt.Sprintf("openapi spec has no operation %s %s", method, path))
	}
	route := &routers.Route{
		Spec:      s.spec,
		Path:      path,
		PathItem:  item,
		Method:    method,
		Operation: item.GetOperation(method),
	}
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		ExcludeRequestBody: rawBody,
	}

	r.MethodFunc(method, path, func(w http.ResponseWriter, req *http.Request) {
		params := map[string]string{}
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				params[key] = rctx.URLParams.Values[i]
			}
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
			Options:    options,
		}
		if err := openapi3filter.ValidateRequest(req.Context(), input); err != nil {
			s.logger.Debug("Request rejected", "method", method, "path", path, "err", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
			return
		}
		h(w, req)
	})
}

func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("invalid parameter %s: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.RequestBody != nil {
			return "invalid request body: " + reqErr.Error()
		}
	}
	return err.Error()
}

// authenticate enforces the bearer token. An unset or placeholder token fails closed.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || isPlaceholder(s.token) {
			s.logger.Error("API token is not configured or uses a placeholder value")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "API authentication is not configured properly on the server."})
			return
		}
		header := r.Header.Get("Authorization")
		scheme, token, _ := strings.Cut(header, " ")
		if header == "" || token == "" || !strings.EqualFold(scheme, "Bearer") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Null token"})
			return
		}
		if token != s.token {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPlaceholder(token string) bool {
	for _, p := range placeholderTokens {
		if token == p {
			return true
		}
	}
	return false
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// machineID binds the path parameter the way generated oapi-codegen servers do.
func machineID(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "machineId", chi.URLParam(r, "machineId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", fmt.Errorf("invalid format for parameter machineId: %w", err)
	}
	return id, nil
}

func (s *Server) withMachine(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := machineID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return "", false
	}
	return id, true
}

func (s *Server) listMachines(w http.ResponseWriter, r *http.Request) {
	ids, err := s.runtime.Machines(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"availableFsms": ids})
}

type transitionRequest struct {
	TransitionName string         `json:"transitionName"`
	CurrentState   string         `json:"currentState"`
	EventPayload   map[string]any `json:"eventPayload"`
	InitialData    map[string]any `json:"initialData"`
}

func (s *Server) fireTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	res, err := s.runtime.Fire(r.Context(), switchboard.FireRequest{
		MachineID:    id,
		Transition:   body.TransitionName,
		CurrentState: body.CurrentState,
		Payload:      body.EventPayload,
		InitialData:  body.InitialData,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"machineId":           res.MachineID,
		"newState":            res.NewState,
		"possibleTransitions": nonNil(res.PossibleTransitions),
		"message":             res.Message,
	})
}

func (s *Server) getDot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	dot, err := s.runtime.DOT(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	_, _ = io.WriteString(w, dot)
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	g, err := s.runtime.Graph(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	data, err := s.runtime.Definition(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/yaml")
	}
	_, _ = w.Write(data)
}

func (s *Server) putDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionSize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	if err := s.runtime.SaveDefinition(r.Context(), id, data); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"machineId": id, "message": fmt.Sprintf("Definition %q saved.", id)})
}

func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	if err := s.runtime.DeleteDefinition(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reloadDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.withMachine(w, r)
	if !ok {
		return
	}
	if err := s.runtime.Reload(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"machineId": id, "message": fmt.Sprintf("Definition %q reloaded.", id)})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.runtime.Sessions()})
}

// fail maps the error taxonomy onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var refused *domain.TransitionRefusedError
	var invalid *domain.ValidationErrors

	switch {
	case errors.As(err, &refused):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":               fmt.Sprintf("Transition %q is not possible from state %q.", refused.Transition, refused.State),
			"currentState":        refused.State,
			"possibleTransitions": nonNil(refused.Available),
		})
	case errors.Is(err, switchboard.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrDefinitionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &invalid):
		details := make([]string, 0, len(invalid.Errors))
		for _, e := range invalid.Errors {
			details = append(details, e.Error())
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid definition", "details": details})
	case errors.Is(err, domain.ErrInvalidDefinition):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPendingTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrReadOnlyStore):
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": err.Error()})
	case domain.IsExternalFailure(err):
		s.logger.Warn("Transition failed on a dependency", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "FSM transition failed due to external API error: " + err.Error()})
	default:
		s.logger.Error("Request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
