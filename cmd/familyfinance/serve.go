package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/familyfinance/cmd/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool, watch-directory scanner and metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withDeps(cmd, api.ModeDaemon, func(ctx context.Context, deps *api.Dependencies) error {
				return serve(ctx, deps)
			})
		},
	}
}

func serve(ctx context.Context, deps *api.Dependencies) error {
	logger := deps.Logger

	if err := deps.Queue.Start(ctx, deps.Config.Import.Workers); err != nil {
		return fmt.Errorf("failed to start worker queue: %w", err)
	}
	resumed, err := deps.ImportService.ResumeInterrupted(ctx)
	if err != nil {
		logger.Error("failed to resume interrupted imports", slog.Any("error", err))
	} else if resumed > 0 {
		logger.Info("resumed interrupted imports", slog.Int("count", resumed))
	}
	if err := deps.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var srv *http.Server
	if deps.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", deps.Metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := deps.DB.Pool.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", deps.Config.Observability.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-deps.Scheduler.Stop().Done()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", slog.Any("error", err))
		}
	}
	if err := deps.Queue.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to drain worker queue: %w", err)
	}
	return nil
}
