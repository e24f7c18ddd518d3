// Package config loads the switchboard configuration file and its environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/switchboard/pkg/session"
	"gopkg.in/yaml.v3"
)

// DefaultPath is looked up when no explicit path is given.
const DefaultPath = "switchboard.yaml"

// Backends accepted in definitions.backend.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendLoam   = "loam"
	BackendMemory = "memory"
)

type Config struct {
	Log           Log           `yaml:"log"`
	HTTP          HTTP          `yaml:"http"`
	Definitions   Definitions   `yaml:"definitions"`
	ARI           ARI           `yaml:"ari"`
	Sessions      Sessions      `yaml:"sessions"`
	HTTPClient    HTTPClient    `yaml:"http_client"`
	Scripts       Scripts       `yaml:"scripts"`
	Metrics       Metrics       `yaml:"metrics"`
	Notifications Notifications `yaml:"notifications"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTP struct {
	Addr     string `yaml:"addr"`
	APIToken string `yaml:"api_token"`
}

type Definitions struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Watch   bool   `yaml:"watch"`
	Redis   Redis  `yaml:"redis"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type ARI struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	App            string        `yaml:"app"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// Sessions configures machine selection and the transition naming conventions.
type Sessions struct {
	DefaultMachine  string            `yaml:"default_machine"`
	MachineVariable string            `yaml:"machine_variable"`
	Routes          map[string]string `yaml:"routes"`
	StartTransition string            `yaml:"start_transition"`
	InputPrefix     string            `yaml:"input_prefix"`
	GenericInput    string            `yaml:"generic_input"`
	InvalidInput    string            `yaml:"invalid_input"`
	Disconnect      string            `yaml:"disconnect"`
	TerminalStates  []string          `yaml:"terminal_states"`
}

type HTTPClient struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type Scripts struct {
	Enabled   bool  `yaml:"enabled"`
	MaxAllocs int64 `yaml:"max_allocs"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

type Notifications struct {
	SQS SQS `yaml:"sqs"`
}

type SQS struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Buffer   int    `yaml:"buffer"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	names := session.DefaultNames()
	return Config{
		Log:  Log{Level: "info", Format: "text"},
		HTTP: HTTP{Addr: ":8080"},
		Definitions: Definitions{
			Backend: BackendFile,
			Dir:     "fsm_definitions",
			Redis: Redis{
				Addr:    "localhost:6379",
				Prefix:  "switchboard:fsm:",
				LockTTL: 10 * time.Second,
			},
		},
		ARI: ARI{
			URL:            "http://localhost:8088",
			App:            "switchboard",
			ReconnectDelay: 5 * time.Second,
		},
		Sessions: Sessions{
			DefaultMachine:  session.DefaultMachine,
			StartTransition: names.Start,
			InputPrefix:     names.InputPrefix,
			GenericInput:    names.GenericInput,
			InvalidInput:    names.InvalidInput,
			Disconnect:      names.Disconnect,
			TerminalStates:  []string{"call_ended"},
		},
		HTTPClient: HTTPClient{DefaultTimeout: 5 * time.Second},
		Scripts:    Scripts{Enabled: true},
		Metrics:    Metrics{Enabled: true},
		Notifications: Notifications{
			SQS: SQS{Region: "us-east-1", Buffer: 256},
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path tries DefaultPath and silently falls back to defaults when it is absent.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.HTTP.APIToken, "SWITCHBOARD_API_TOKEN", "API_TOKEN")
	set(&c.ARI.URL, "ASTERISK_URL")
	set(&c.ARI.Username, "ASTERISK_USERNAME")
	set(&c.ARI.Password, "ASTERISK_PASSWORD")
	set(&c.ARI.App, "ASTERISK_APP_NAME")
	set(&c.Definitions.Redis.Addr, "SWITCHBOARD_REDIS_ADDR")
	set(&c.Log.Level, "SWITCHBOARD_LOG_LEVEL")

	if v, ok := lookup("SWITCHBOARD_ARI_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SWITCHBOARD_ARI_ENABLED: %w", err)
		}
		c.ARI.Enabled = enabled
	}
	return nil
}

// Validate reports settings that cannot be wired.
func (c Config) Validate() error {
	var problems []string
	switch c.Definitions.Backend {
	case BackendFile, BackendLoam:
		if c.Definitions.Dir == "" {
			problems = append(problems, "definitions.dir is required for the "+c.Definitions.Backend+" backend")
		}
	case BackendRedis:
		if c.Definitions.Redis.Addr == "" {
			problems = append(problems, "definitions.redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown definitions.backend %q", c.Definitions.Backend))
	}
	if c.ARI.Enabled && c.ARI.URL == "" {
		problems = append(problems, "ari.url is required when ari is enabled")
	}
	if c.ARI.Enabled && c.ARI.App == "" {
		problems = append(problems, "ari.app is required when ari is enabled")
	}
	if c.HTTPClient.DefaultTimeout < 0 {
		problems = append(problems, "http_client.default_timeout must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Names converts the session naming settings.
func (s Sessions) Names() session.Names {
	return session.Names{
		Start:        s.StartTransition,
		InputPrefix:  s.InputPrefix,
		GenericInput: s.GenericInput,
		InvalidInput: s.InvalidInput,
		Disconnect:   s.Disconnect,
	}
}

// Selector converts the machine selection settings.
func (s Sessions) Selector() session.Selector {
	return session.Selector{
		Default:  s.DefaultMachine,
		Variable: s.MachineVariable,
		Routes:   s.Routes,
	}
}
