package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nmhealth-go/internal/alert"
	"nmhealth-go/internal/httpapi"
	"nmhealth-go/internal/observability"
	"nmhealth-go/internal/scheduler"
	"nmhealth-go/internal/storage"
	"nmhealth-go/internal/tlslocal"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Evaluate the configured targets on a schedule and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), listen, nil)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides config)")
	return cmd
}

// runServe blocks until ctx is cancelled, SIGINT or SIGTERM arrives, or a
// component fails. ready, when set, receives the API address.
func runServe(ctx context.Context, listen string, ready func(addr string)) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(err)
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if len(cfg.Targets) == 0 {
		return configError(errors.New("no targets configured"))
	}

	logger, err := setupLogger(cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	logger.Info("Starting nmhealth",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("targets", len(cfg.Targets)))

	obs, err := observability.NewManager(sugar, cfg, version)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obs.Close(closeCtx); err != nil {
			logger.Warn("Failed to close observability", zap.Error(err))
		}
	}()

	// Left as nil interfaces when history is disabled.
	var (
		schedHistory scheduler.History
		apiHistory   httpapi.HistoryReader
	)
	if cfg.History.Enabled {
		history, err := storage.NewManager(cfg.DataDir, sugar.Named("storage"))
		if err != nil {
			return fmt.Errorf("failed to open alert history: %w", err)
		}
		defer history.Close()

		schedHistory, apiHistory = history, history
		dbChecker := observability.NewDatabaseHealthChecker("history", history.GetDB, storage.AlertsBucket)
		obs.RegisterHealthChecker(dbChecker)
		obs.RegisterReadinessChecker(dbChecker)
	}

	evaluator := alert.New(alert.OptionsFromConfig(cfg.Evaluator, logger, obs.Tracer()))
	defer evaluator.Close()
	sched, err := scheduler.New(cfg.Targets, scheduler.Options{
		Evaluator:      evaluator,
		History:        schedHistory,
		Metrics:        obs,
		Tracing:        obs.Tracing(),
		Logger:         logger,
		DefaultTimeout: cfg.Evaluator.Timeout.Std(),
		Retention:      cfg.History.Retention.Std(),
		MaxRecords:     cfg.History.MaxRecords,
	})
	if err != nil {
		return configError(err)
	}

	schedChecker := observability.NewComponentHealthChecker("scheduler", sched.Running, sched.Running)
	obs.RegisterHealthChecker(schedChecker)
	obs.RegisterReadinessChecker(schedChecker)

	server := httpapi.NewServer(sched, apiHistory, sugar, obs)
	if cfg.TLS.Enabled {
		tlsConfig, err := tlslocal.EnsureServerTLSConfig(tlslocal.Options{
			Dir:               cfg.CertsDir(),
			RequireClientCert: cfg.TLS.RequireClientCert,
			Hosts:             cfg.TLS.Hosts,
		})
		if err != nil {
			return fmt.Errorf("failed to set up TLS: %w", err)
		}
		server.SetTLSConfig(tlsConfig)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.Listen, ready)
	})

	err = g.Wait()
	logger.Info("nmhealth stopped")
	return err
}
