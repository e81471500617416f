package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/urlsync"
	"github.com/vango-dev/urlsync/internal/config"
	"github.com/vango-dev/urlsync/internal/errors"
	"github.com/vango-dev/urlsync/pkg/adapter/wsbind"
	"github.com/vango-dev/urlsync/pkg/queue"
	"github.com/vango-dev/urlsync/pkg/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket browser binding",
		Long: `Serve accepts browser tabs on /ws and mounts one sync engine per tab.
Connected tabs are listed on /state and Prometheus metrics are exposed
on the configured metrics path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := newServer(cfg, cfg.NewLogger(os.Stderr))
			return srv.run(ctx, cmd)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to "+config.ConfigFileName)
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	return cmd
}

// server wires the websocket binding, metrics and logging for serve.
type server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	ws      *wsbind.Server
	handler http.Handler
}

func newServer(cfg *config.Config, logger *slog.Logger) *server {
	s := &server{cfg: cfg, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Metrics.Enabled {
		s.metrics = telemetry.NewMetrics(
			telemetry.WithRegistry(registry),
			telemetry.WithNamespace(cfg.Metrics.Namespace),
		)
	}
	tracer := telemetry.Tracer(telemetry.DefaultTracerName)

	bindingOpts := []wsbind.BindingOption{
		wsbind.WithWriteTimeout(cfg.Server.WriteTimeout),
		wsbind.WithNavigationErrorHandler(func(string, error) {
			s.metrics.RecordNavigationError()
		}),
	}
	if cfg.Sync.RateLimitFactor > 0 {
		bindingOpts = append(bindingOpts, wsbind.WithRateLimitFactor(cfg.Sync.RateLimitFactor))
	}

	s.ws = wsbind.NewServer(wsbind.ServerConfig{
		ReadBufferSize:  cfg.Server.ReadBufferSize,
		WriteBufferSize: cfg.Server.WriteBufferSize,
		CheckOrigin:     checkOrigin(cfg.Server.AllowedOrigins),
		BindingOptions:  bindingOpts,
		Logger:          logger,
		OnConnect: func(b *wsbind.Binding) func() {
			syncer := urlsync.Mount(b,
				urlsync.WithLogger(logger.With("binding", b.ID())),
				urlsync.WithMinInterval(cfg.Sync.MinInterval),
				urlsync.WithMetrics(s.metrics),
				urlsync.WithTracer(tracer),
			)
			b.OnIntent(func(in wsbind.Intent) error {
				return syncer.Enqueue(in.Key, queue.Value(in.Value), in.Options)
			})
			return syncer.Unmount
		},
	})

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/", s.ws.Handler())
	s.handler = r
	return s
}

// run serves until ctx is cancelled, then closes every tab and shuts down.
func (s *server) run(ctx context.Context, cmd *cobra.Command) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	success(cmd.OutOrStdout(), "listening on http://%s", s.cfg.Server.Addr)
	s.logger.Info("serving",
		"addr", s.cfg.Server.Addr,
		"min_interval", s.cfg.Sync.MinInterval,
		"metrics", s.cfg.Metrics.Enabled,
	)

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New("U040").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.ws.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.New("U040").Wrap(err)
	}
	return nil
}

// checkOrigin accepts same-origin requests, requests without an Origin
// header, and the listed origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
