package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gristmill-dev/grist/internal/config"
	"github.com/gristmill-dev/grist/internal/errors"
	"github.com/gristmill-dev/grist/pkg/grist"
	"github.com/gristmill-dev/grist/pkg/gristmetrics"
	"github.com/gristmill-dev/grist/pkg/gristtrace"
	"github.com/gristmill-dev/grist/pkg/watch"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		addr string
		tick time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and a live version feed for a demo counter",
		Long: `Start an inspection server driving a demo counter.

Endpoints:
  /metrics   Prometheus metrics for every lock and notification
  /ws        WebSocket feed of {"name","version"} updates
  /cells     JSON snapshot of every watched value
  /healthz   liveness probe

Examples:
  grist serve
  grist serve --addr 127.0.0.1:9090 --tick 50ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			interval := cfg.TickInterval()
			if tick > 0 {
				interval = tick
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, interval)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from grist.json)")
	cmd.Flags().DurationVarP(&tick, "tick", "t", 0, "Demo counter interval (default from grist.json)")

	return cmd
}

// inspector owns the demo values and everything that observes them.
type inspector struct {
	registry *prometheus.Registry
	hub      *watch.Hub

	counter *grist.Obj[int]
	parity  *grist.Obj[bool]
	scope   *grist.Scope
}

func newInspector(cfg *config.Config) *inspector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obs := grist.MultiObserver{
		gristmetrics.New(gristmetrics.WithRegistry(registry)),
		gristtrace.New(),
	}

	var hubOpts []watch.Option
	if origins := cfg.Serve.AllowedOrigins; len(origins) > 0 {
		hubOpts = append(hubOpts, watch.WithCheckOrigin(func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		}))
	}

	s := &inspector{
		registry: registry,
		hub:      watch.NewHub(hubOpts...),
		counter:  grist.New(0, grist.WithName("counter"), grist.WithObserver(obs)),
		parity:   grist.New(false, grist.WithName("parity"), grist.WithObserver(obs)),
		scope:    grist.NewScope(nil),
	}

	// parity follows counter through a subscription, writing a second value
	// from inside the counter's notification pass.
	parity := s.parity.Clone()
	s.scope.Hold(parity)
	grist.WatchObj(s.scope, s.counter, func() {
		odd := s.counter.Get()%2 == 1
		if parity.Get() != odd {
			parity.Set(odd)
		}
	})

	_ = s.hub.Watch("counter", s.counter)
	_ = s.hub.Watch("parity", s.parity)

	return s
}

func (s *inspector) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/cells", s.handleCells)
	r.Handle("/ws", s.hub)

	return r
}

func (s *inspector) handleCells(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.hub.Snapshot())
}

// run increments the counter every interval until ctx is done.
func (s *inspector) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.counter.Update(func(v *int) { *v++ })
		}
	}
}

// Close stops the feed and releases the demo values.
func (s *inspector) Close() {
	s.hub.Close()
	s.scope.Dispose()
	s.counter.Release()
	s.parity.Release()
}

func runServe(ctx context.Context, cfg *config.Config, interval time.Duration) error {
	s := newInspector(cfg)
	defer s.Close()

	// The ticker must be gone before Close releases the counter.
	ctx, stopTicker := context.WithCancel(ctx)
	ticking := make(chan struct{})
	defer func() {
		stopTicker()
		<-ticking
	}()

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(ticking)
		s.run(ctx, interval)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	success("Serving on %s", cfg.Serve.Addr)
	info("metrics:  http://%s/metrics", displayAddr(cfg.Serve.Addr))
	info("feed:     ws://%s/ws", displayAddr(cfg.Serve.Addr))
	info("counter ticks every %s", interval)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.New(errors.CodeServeFailed).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New(errors.CodeServeFailed).Wrap(err)
	}
	return nil
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
