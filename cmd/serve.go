package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/api"
	"github.com/discoverly/edgeschema/internal/app"
	"github.com/discoverly/edgeschema/internal/clock/system"
	"github.com/discoverly/edgeschema/internal/config"
	"github.com/discoverly/edgeschema/internal/interceptor"
	"github.com/discoverly/edgeschema/internal/logging"
	"github.com/discoverly/edgeschema/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the analysis backend, worker, and edge interceptor",
		Long: `Runs the job submission API, the single analysis worker with its
retry sweeper, and, when origin.url is configured, the edge interceptor
that injects generated metadata into origin responses.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup

	// Single worker: all job mutations are serialized through it.
	w := worker.New(a.Queue, a.Pipeline, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	sweeper := worker.NewSweeper(a.Jobs, a.Queue, system.New(), worker.SweeperConfig{
		Interval:   cfg.SweepInterval(),
		MaxRetries: cfg.Worker.MaxRetries,
	}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(a.Pipeline, a.Jobs, a.Domains, cfg, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	servers := []*http.Server{apiServer}

	var edge *interceptor.Interceptor
	if cfg.Origin.URL != "" {
		edge, err = interceptor.New(a.Cache, a.Pipeline, interceptor.Config{
			OriginURL:     cfg.Origin.URL,
			OriginTimeout: cfg.OriginTimeout(),
			SubmitTimeout: time.Duration(cfg.Interceptor.SubmitTimeoutSeconds) * time.Second,
			MaxBodyBytes:  cfg.Interceptor.MaxBodyBytes,
		}, logger)
		if err != nil {
			return fmt.Errorf("init interceptor: %w", err)
		}
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Interceptor.Port),
			Handler:           edge,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		logger.Info("listening", zap.String("addr", srv.Addr))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	if edge != nil {
		edge.Wait()
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}
