// Package cli wires the configuration into a running switchboard for the command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/switchboard"
	"github.com/aretw0/switchboard/internal/config"
	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/adapters/ari"
	"github.com/aretw0/switchboard/pkg/adapters/file"
	"github.com/aretw0/switchboard/pkg/adapters/httpclient"
	"github.com/aretw0/switchboard/pkg/adapters/loam"
	"github.com/aretw0/switchboard/pkg/adapters/memory"
	"github.com/aretw0/switchboard/pkg/adapters/redis"
	"github.com/aretw0/switchboard/pkg/adapters/sqs"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/aretw0/switchboard/pkg/observability"
	"github.com/aretw0/switchboard/pkg/pipeline"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/aretw0/switchboard/pkg/registry"
	"github.com/aretw0/switchboard/pkg/script"
	"github.com/aretw0/switchboard/pkg/session"
	"github.com/aretw0/switchboard/pkg/template"
)

// App is a fully wired switchboard.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     ports.DefinitionStore
	Registry  *registry.Registry
	Router    *session.Router
	Runtime   *switchboard.Runtime
	ARI       *ari.Client
	Events    *ari.EventSource
	Metrics   *observability.Metrics
	Publisher *sqs.Publisher

	closers []func() error
}

// NewLogger builds the logger described by the log section.
func NewLogger(cfg config.Log) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithFormat(level, cfg.Format), nil
}

// Build wires every component the configuration enables. Call Close when done.
func Build(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	store, err := app.openStore()
	if err != nil {
		return nil, err
	}
	app.Store = store

	hooks := observability.LogHooks(logger)
	if cfg.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		app.Metrics = m
		hooks = hooks.Merge(m.Hooks())
	}
	if cfg.Notifications.SQS.QueueURL != "" {
		client, err := sqs.NewClient(cfg.Notifications.SQS.Region, cfg.Notifications.SQS.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("sqs: %w", err)
		}
		app.Publisher = sqs.NewPublisher(client, cfg.Notifications.SQS.QueueURL,
			sqs.WithBuffer(cfg.Notifications.SQS.Buffer),
			sqs.WithLogger(logger),
		)
		hooks = hooks.Merge(app.Publisher.Hooks())
	}

	var control ports.CallControl
	if cfg.ARI.Enabled {
		app.ARI = ari.NewClient(ari.Config{
			URL:      cfg.ARI.URL,
			Username: cfg.ARI.Username,
			Password: cfg.ARI.Password,
			App:      cfg.ARI.App,
		}, ari.WithLogger(logger))
		app.Events = ari.NewEventSource(app.ARI,
			ari.WithReconnectDelay(cfg.ARI.ReconnectDelay),
			ari.WithSourceLogger(logger),
		)
		control = app.ARI
	}

	execOpts := []pipeline.Option{
		pipeline.WithHTTP(httpclient.New(httpclient.WithTimeout(cfg.HTTPClient.DefaultTimeout), httpclient.WithLogger(logger))),
		pipeline.WithResolver(template.New(template.WithLogger(logger))),
		pipeline.WithDefaultTimeout(cfg.HTTPClient.DefaultTimeout),
		pipeline.WithLogger(logger),
		pipeline.WithHooks(hooks),
	}
	if control != nil {
		execOpts = append(execOpts, pipeline.WithCallControl(control))
	}

	compiler := machine.NewCompiler(
		machine.WithExecutor(pipeline.NewExecutor(execOpts...)),
		machine.WithScripts(cfg.Scripts.Enabled, script.Options{MaxAllocs: cfg.Scripts.MaxAllocs}),
		machine.WithTerminalStates(cfg.Sessions.TerminalStates...),
		machine.WithHooks(hooks),
		machine.WithLogger(logger),
	)
	app.Registry = registry.New(store,
		registry.WithCompiler(compiler),
		registry.WithHooks(hooks),
		registry.WithLogger(logger),
	)

	routerOpts := []session.Option{
		session.WithSelector(cfg.Sessions.Selector()),
		session.WithNames(cfg.Sessions.Names()),
		session.WithHooks(hooks),
		session.WithLogger(logger),
	}
	if control != nil {
		routerOpts = append(routerOpts, session.WithCallControl(control))
	}
	app.Router = session.NewRouter(app.Registry, routerOpts...)

	rtOpts := []switchboard.Option{
		switchboard.WithRouter(app.Router),
		switchboard.WithLogger(logger),
	}
	if rs, ok := store.(*redis.Store); ok {
		rtOpts = append(rtOpts, switchboard.WithLocker(redis.NewLocker(rs.Client(), rs.Prefix()), cfg.Definitions.Redis.LockTTL))
	}
	app.Runtime = switchboard.New(app.Registry, rtOpts...)

	return app, nil
}

func (a *App) openStore() (ports.DefinitionStore, error) {
	defs := a.Config.Definitions
	switch defs.Backend {
	case config.BackendFile:
		return file.New(defs.Dir, file.WithLogger(a.Logger)), nil
	case config.BackendRedis:
		rs := redis.New(defs.Redis.Addr, defs.Redis.Password, defs.Redis.DB, redis.WithPrefix(defs.Redis.Prefix))
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	case config.BackendLoam:
		return loam.Open(defs.Dir)
	case config.BackendMemory:
		return seedMemory(defs.Dir)
	}
	return nil, fmt.Errorf("unknown definitions backend %q", defs.Backend)
}

// seedMemory copies the definitions found in dir, when it exists, into a memory store.
func seedMemory(dir string) (*memory.Store, error) {
	docs := map[string]string{}
	if dir == "" {
		return memory.NewStore(docs), nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return memory.NewStore(docs), nil
	}

	src := file.New(dir)
	ctx := context.Background()
	ids, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed memory store: %w", err)
	}
	for _, id := range ids {
		data, err := src.Read(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
		docs[id] = string(data)
	}
	return memory.NewStore(docs), nil
}

// Watchable returns the store as a change source, when it is one.
func (a *App) Watchable() (ports.Watchable, bool) {
	w, ok := a.Store.(ports.Watchable)
	return w, ok
}

// Close releases the backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Check compiles every id (every stored definition when ids is empty) and returns the failures
// keyed by id.
func (a *App) Check(ctx context.Context, ids ...string) (map[string]error, error) {
	if len(ids) == 0 {
		var err error
		if ids, err = a.Registry.List(ctx); err != nil {
			return nil, fmt.Errorf("list definitions: %w", err)
		}
	}
	failures := map[string]error{}
	for _, id := range ids {
		if _, err := a.Registry.Check(ctx, id); err != nil {
			failures[id] = err
		}
	}
	return failures, nil
}

// Issues flattens a compile error into one line per problem.
func Issues(err error) []string {
	var verrs *domain.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]string, 0, len(verrs.Errors))
		for _, e := range verrs.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
