package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/genojob/internal/api"
	"github.com/CZERTAINLY/genojob/internal/genomics"
	"github.com/CZERTAINLY/genojob/internal/jobs"
	"github.com/CZERTAINLY/genojob/internal/log"
	"github.com/CZERTAINLY/genojob/internal/model"
	"github.com/CZERTAINLY/genojob/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve runs the job API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				config.Server.Addr = addr
			}
			return doServe(cmd.Context(), config)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func doServe(ctx context.Context, cfg model.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("genojob",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	gin.SetMode(cfg.Server.GinMode)

	metrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	manager, err := jobs.New(ctx, registry, cfg.JobsConfig(), jobs.WithMeterProvider(metrics.Provider))
	if err != nil {
		return fmt.Errorf("creating job manager: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(manager, registry, metrics.Handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", cfg.Server.Addr, "kinds", len(registry.Kinds()))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(
		err,
		srv.Shutdown(shutdownCtx),
		manager.Close(shutdownCtx),
		metrics.Shutdown(shutdownCtx),
	)
}

// newRegistry registers the genomic analyses. By default they run as the
// hidden analyze subcommand of this binary, commands in the config override it.
func newRegistry(cfg model.Config) (*jobs.Registry, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable: %w", err)
	}
	targets := make(map[string]jobs.Target, len(cfg.Commands))
	for kind, command := range cfg.Commands {
		targets[kind] = command.Target()
	}
	registry := jobs.NewRegistry()
	if err := genomics.Register(registry, self, targets); err != nil {
		return nil, fmt.Errorf("registering analyses: %w", err)
	}
	return registry, nil
}
