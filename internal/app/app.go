// Package app assembles nightshiftd's collaborators from a loaded Config:
// the Prompt Store, Branch Discipline, Runner, Worker, Event Hub, REST API,
// and optional Status Surface. Grounded on the teacher's internal/cli/run.go
// wiring, generalized from "one daemon loop over concerns" to "one set of
// long-lived services started together and stopped together".
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ulfur/nightshift/internal/api"
	"github.com/ulfur/nightshift/internal/config"
	"github.com/ulfur/nightshift/internal/display"
	"github.com/ulfur/nightshift/internal/external"
	"github.com/ulfur/nightshift/internal/hub"
	"github.com/ulfur/nightshift/internal/promptdomain"
	"github.com/ulfur/nightshift/internal/runner"
	"github.com/ulfur/nightshift/internal/store"
	"github.com/ulfur/nightshift/internal/worker"
)

// App holds every long-lived collaborator, wired but not yet started.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Store    *store.Store
	Auth     external.Authenticator
	Registry *external.ConfigProjectRegistry
	Hub      *hub.Hub
	Runner   *runner.Runner
	Worker   *worker.Worker
	API      *api.Server
	Display  *display.Worker

	metrics *metrics
}

type metrics struct {
	promptsTotal   *prometheus.CounterVec
	attemptSeconds prometheus.Histogram
}

func newMetrics(reg *prometheus.Registry) *metrics {
	return &metrics{
		promptsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "nightshift",
			Name:      "prompts_total",
			Help:      "Prompts that reached a terminal status, labeled by outcome.",
		}, []string{"status"}),
		attemptSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "nightshift",
			Name:      "attempt_run_seconds",
			Help:      "Wall-clock duration of agent attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// New builds every collaborator named in cfg, without starting any of them.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	st := store.New(cfg.Store.Dir, cfg.Store.LogsDir, cfg.Store.DurationWindow)
	if err := st.Load(); err != nil {
		return nil, fmt.Errorf("loading prompt store: %w", err)
	}

	auth := external.NewStaticAuthenticator(cfg.Auth.SharedSecret)
	registry := external.NewConfigProjectRegistry(cfg.Projects)

	promReg := prometheus.NewRegistry()
	m := newMetrics(promReg)

	snap := &snapshotter{store: st, registry: registry, log: log}
	h := hub.New(auth, snap, log)

	sink := hub.NewStreamSink(h)
	r := runner.New(sink)

	w := worker.New(st, r, h, registry, cfg.BranchDiscipline, cfg.Agent, log)

	srv := &api.Server{Store: st, Canceler: w, Auth: auth, WS: h, Hub: h}

	a := &App{
		Config:   cfg,
		Log:      log,
		Store:    st,
		Auth:     auth,
		Registry: registry,
		Hub:      h,
		Runner:   r,
		Worker:   w,
		API:      srv,
		metrics:  m,
	}

	if cfg.Display.Enabled {
		panel := display.NewFilePanel(cfg.Store.Dir + "/display")
		width, height := cfg.Display.WidthPx, cfg.Display.HeightPx
		if width == 0 {
			width = 800
		}
		if height == 0 {
			height = 480
		}
		a.Display = display.New(panel, st, external.NopHumanTaskStore{}, external.NopPowerTelemetry{}, width, height, cfg.Display.SubtitleRotation.Duration(), log)
	}

	return a, nil
}

// RecoverInflight rewrites any ghost "running" records left by a previous
// process and broadcasts the change, then returns the affected ids
// (spec.md §4.1 "Crash recovery"). Call once, before Run.
func (a *App) RecoverInflight() []string {
	ids := a.Store.RecoverInflight()
	for _, id := range ids {
		if p, ok := a.Store.Get(id); ok {
			a.metrics.promptsTotal.WithLabelValues(string(p.Status)).Inc()
			a.Hub.Broadcast(hub.TypePromptUpdate, hub.BuildPromptPayload(p, a.Registry))
		}
	}
	a.Hub.Broadcast(hub.TypeQueueSnap, a.Store.List())
	return ids
}

// Run starts the Worker, Hub health ticker, optional Display, and the HTTP
// server, blocking until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	go a.Worker.Run(ctx)

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	go a.Hub.StartHealthTicker(a.Config.Health.Interval.Duration(), stop)

	if a.Display != nil {
		go a.Display.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/", a.API.Router())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.Config.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("nightshiftd listening", "address", a.Config.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// snapshotter adapts the Store and ProjectRegistry to hub.Snapshotter.
type snapshotter struct {
	store    *store.Store
	registry *external.ConfigProjectRegistry
	log      *slog.Logger
}

func (s *snapshotter) QueueSnapshot() any {
	prompts := s.store.List()
	payloads := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		payloads = append(payloads, hub.BuildPromptPayload(p, s.registry))
	}
	return map[string]any{"prompts": payloads, "pending": s.store.PendingCount()}
}

func (s *snapshotter) HealthSnapshot() any {
	prompts := s.store.List()
	counts := map[promptdomain.Status]int{}
	for _, p := range prompts {
		counts[p.Status]++
	}
	return map[string]any{
		"status":    "ok",
		"pending":   s.store.PendingCount(),
		"queued":    counts[promptdomain.StatusQueued],
		"running":   counts[promptdomain.StatusRunning],
		"completed": counts[promptdomain.StatusCompleted],
		"failed":    counts[promptdomain.StatusFailed],
		"canceled":  counts[promptdomain.StatusCanceled],
		"timestamp": time.Now(),
	}
}

func (s *snapshotter) PromptPayload(id string) (any, bool) {
	p, ok := s.store.Get(id)
	if !ok {
		return nil, false
	}
	return hub.BuildPromptPayload(p, s.registry), true
}
