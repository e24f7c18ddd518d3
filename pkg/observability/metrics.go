package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime collectors.
type Metrics struct {
	Transitions    *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	SessionsActive prometheus.Gauge
	Loads          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on a fresh registry, which also carries
// the Go and process collectors.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith registers the collectors on reg and serves them from g.
func NewMetricsWith(reg prometheus.Registerer, g prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_transitions_total",
				Help: "Fired transitions by machine, transition and outcome.",
			},
			[]string{"machine", "transition", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_action_duration_seconds",
				Help:    "Duration of hook actions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type", "outcome"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_sessions_active",
			Help: "Sessions currently bound to a machine instance.",
		}),
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_definition_loads_total",
				Help: "Definition loads by outcome.",
			},
			[]string{"outcome"},
		),
		gatherer: g,
	}
	for _, c := range []prometheus.Collector{m.Transitions, m.ActionDuration, m.SessionsActive, m.Loads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks records every lifecycle event.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.MachineID, e.Transition, string(e.Outcome)).Inc()
		},
		OnAction: func(_ context.Context, e *domain.ActionEvent) {
			m.ActionDuration.WithLabelValues(string(e.ActionType), string(e.Outcome)).Observe(e.Duration.Seconds())
		},
		OnSessionStart: func(context.Context, *domain.SessionLifecycleEvent) {
			m.SessionsActive.Inc()
		},
		OnSessionEnd: func(context.Context, *domain.SessionLifecycleEvent) {
			m.SessionsActive.Dec()
		},
		OnLoad: func(_ context.Context, e *domain.LoadEvent) {
			m.Loads.WithLabelValues(string(e.Outcome)).Inc()
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// LogHooks logs transitions, failed actions and session boundaries.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			level := slog.LevelInfo
			if e.Outcome != domain.OutcomeOK {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "transition",
				"machine_id", e.MachineID,
				"session_id", e.SessionID,
				"transition", e.Transition,
				"from", e.From,
				"to", e.To,
				"outcome", e.Outcome,
				"follow_up", e.FollowUp,
			)
		},
		OnAction: func(ctx context.Context, e *domain.ActionEvent) {
			if e.Outcome == domain.OutcomeOK {
				return
			}
			logger.Warn("action failed", "machine_id", e.MachineID, "type", e.ActionType, "name", e.Name)
		},
		OnSessionStart: func(ctx context.Context, e *domain.SessionLifecycleEvent) {
			logger.Info("session bound", "machine_id", e.MachineID, "session_id", e.SessionID)
		},
		OnSessionEnd: func(ctx context.Context, e *domain.SessionLifecycleEvent) {
			logger.Info("session released", "machine_id", e.MachineID, "session_id", e.SessionID)
		},
	}
}
