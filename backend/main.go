package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medigo/m/internal/api"
	"medigo/m/internal/config"
	"medigo/m/internal/database"
	"medigo/m/internal/logger"
	"medigo/m/internal/metrics"
	"medigo/m/internal/migrations"
	"medigo/m/internal/seed"
	"medigo/m/internal/stock"
	"medigo/m/internal/tracing"
)

const serviceName = "medigo-api"

func main() {
	rootCmd := &cobra.Command{
		Use:          "medigo",
		Short:        "MediGo hospital operations API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate, seed and start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sqlx.DB, log *zap.Logger) error {
				if err := migrations.Run(ctx, db); err != nil {
					return err
				}
				log.Info("schema up to date", zap.String("driver", db.DriverName()))
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the medication catalogue and bootstrap the admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sqlx.DB, log *zap.Logger) error {
				if csvPath != "" {
					cfg.SeedMedicationsCSV = csvPath
				}
				if err := migrations.Run(ctx, db); err != nil {
					return err
				}
				return runSeed(ctx, cfg, db, log, true)
			})
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "medication catalogue CSV (defaults to SEED_MEDICATIONS_CSV)")
	return cmd
}

// withDatabase loads configuration, builds the logger and opens the database
// for one-shot commands.
func withDatabase(ctx context.Context, fn func(context.Context, config.Config, *sqlx.DB, *zap.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.Connect(ctx, cfg.DatabaseDSN, cfg.MaxOpenConn)
	if err != nil {
		log.Error("database connection failed", zap.Error(err))
		return err
	}
	defer db.Close()

	return fn(ctx, cfg, db, log)
}

// runSeed loads the catalogue and admin account. A missing catalogue only
// fails the run when strict is set.
func runSeed(ctx context.Context, cfg config.Config, db *sqlx.DB, log *zap.Logger, strict bool) error {
	if cfg.SeedMedicationsCSV != "" {
		if _, err := seed.LoadMedications(ctx, db, cfg.SeedMedicationsCSV, log); err != nil {
			if strict {
				return err
			}
			log.Warn("medication catalogue not loaded", zap.Error(err))
		}
	}
	if _, err := seed.EnsureAdmin(ctx, db, cfg.AdminEmail, cfg.AdminPassword, log); err != nil {
		return err
	}
	return nil
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Connect(ctx, cfg.DatabaseDSN, cfg.MaxOpenConn)
	if err != nil {
		log.Error("database connection failed", zap.Error(err))
		return err
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return err
	}
	if err := runSeed(ctx, cfg, db, log, false); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	engine := stock.NewEngine(db, log, m)
	handler := api.New(db, engine, log, m, api.AuthConfig{
		Secret:             cfg.Secret,
		TokenTTL:           cfg.TokenTTL,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("MediGo API starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("driver", db.DriverName()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
