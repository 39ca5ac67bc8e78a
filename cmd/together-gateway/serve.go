package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jtjenkins/Together-sub000/internal/directory"
	"github.com/jtjenkins/Together-sub000/pkg/auth"
	"github.com/jtjenkins/Together-sub000/pkg/gateway"
)

// serveConfig is the environment-driven configuration of the serve
// command. Auth settings live in the auth package and are loaded
// separately.
type serveConfig struct {
	Addr             string        `env:"TOGETHER_GATEWAY_ADDR" envDefault:":8090"`
	LogFormat        string        `env:"TOGETHER_GATEWAY_LOG_FORMAT" envDefault:"text"`
	HeartbeatTimeout time.Duration `env:"TOGETHER_GATEWAY_HEARTBEAT_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout  time.Duration `env:"TOGETHER_GATEWAY_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	AllowAllOrigins  bool          `env:"TOGETHER_GATEWAY_ALLOW_ALL_ORIGINS" envDefault:"false"`
}

// serveCmd runs the gateway server.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	var cfg serveConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	verifier := auth.NewTokenVerifier(authCfg)

	gwConfig := gateway.DefaultConfig()
	gwConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	if cfg.AllowAllOrigins {
		logger.Warn("origin checking disabled, do not run this in production")
		gwConfig.CheckOrigin = func(r *http.Request) bool { return true }
	}

	metrics := gateway.NewMetrics(prometheus.DefaultRegisterer)
	registry := gateway.NewRegistry(logger, metrics)

	memberships := directory.NewMemberships()
	presence := directory.NewPresence(memberships)
	bootstrap := directory.NewBootstrap(memberships)

	dispatcher := gateway.NewDispatcher(registry, memberships, logger, metrics)

	srv := gateway.NewServer(gateway.ServerOptions{
		Registry:      registry,
		Dispatcher:    dispatcher,
		Authenticator: verifier,
		Presence:      presence,
		Bootstrap:     bootstrap,
		Config:        gwConfig,
		Logger:        logger,
		Metrics:       metrics,
	})

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Get("/gateway", srv.HandleGateway)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	srv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

// newLogger builds the process logger. Format is "json" or "text".
func newLogger(format string) *slog.Logger {
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}
