package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/switchboard/internal/config"
	httpadapter "github.com/aretw0/switchboard/pkg/adapters/http"
	"github.com/aretw0/switchboard/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// Handler builds the control surface for the app.
func (a *App) Handler() (http.Handler, error) {
	opts := []httpadapter.Option{
		httpadapter.WithToken(a.Config.HTTP.APIToken),
		httpadapter.WithLogger(a.Logger),
	}
	if a.Metrics != nil {
		opts = append(opts, httpadapter.WithMetrics(a.Metrics.Handler()))
	}
	return httpadapter.NewHandler(a.Runtime, opts...)
}

// Serve runs every enabled loop until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Registry.Preload(ctx); err != nil {
		a.Logger.Warn("Some definitions failed to load", "err", err)
	}

	handler, err := a.Handler()
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}
	srv := &http.Server{Addr: a.Config.HTTP.Addr, Handler: handler}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("Graceful shutdown did not complete", "err", err)
			return srv.Close()
		}
		return nil
	})

	if a.Events != nil {
		events := make(chan domain.SessionEvent, 64)
		g.Go(func() error {
			defer close(events)
			return a.Events.Run(ctx, events)
		})
		g.Go(func() error {
			return a.Router.Run(ctx, events)
		})
	}

	if w, ok := a.Watchable(); ok && a.watchEnabled() {
		g.Go(func() error {
			return a.Registry.Watch(ctx, w)
		})
	}

	if a.Publisher != nil {
		g.Go(func() error {
			return a.Publisher.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchEnabled reports whether definition changes should invalidate the cache. Shared backends
// always publish changes; the file backend only when asked to.
func (a *App) watchEnabled() bool {
	switch a.Config.Definitions.Backend {
	case config.BackendFile, config.BackendLoam:
		return a.Config.Definitions.Watch
	}
	return true
}
