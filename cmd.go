package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/config"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// runtimeState is filled by the root command before any subcommand runs
type runtimeState struct {
	cfg   *config.ProductionConfig
	flush func()
}

func newRootCmd() *cobra.Command {
	state := &runtimeState{flush: func() {}}

	root := &cobra.Command{
		Use:           "trakpilot",
		Short:         "Email engagement tracking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProductionConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			utils.InitLogger(utils.LoggerOptions{
				Level:      cfg.Logging.Level,
				Format:     cfg.Logging.Format,
				Output:     cfg.Logging.Output,
				FilePath:   cfg.Logging.FilePath,
				MaxSize:    cfg.Logging.MaxSize,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAge:     cfg.Logging.MaxAge,
				Compress:   cfg.Logging.Compress,
				Caller:     cfg.Logging.EnableCaller,
			})
			flush, err := utils.InitSentry(utils.SentryOptions{
				DSN:         cfg.Sentry.DSN,
				Environment: cfg.Sentry.Environment,
				Release:     cfg.Deployment.Version,
				SampleRate:  cfg.Sentry.SampleRate,
			})
			if err != nil {
				logrus.WithError(err).Warn("Sentry disabled")
			}
			state.cfg = cfg
			state.flush = flush
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			state.flush()
		},
	}

	root.AddCommand(newServeCmd(state), newMigrateCmd(state), newSweepCmd(state))
	return root
}

func newServeCmd(state *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, tracking endpoints and optional sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			logrus.WithFields(logrus.Fields{
				"environment": state.cfg.Deployment.Environment,
				"version":     state.cfg.Deployment.Version,
			}).Info("Starting TrakPilot")

			app, err := initializeApplication(state.cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Serve()
		},
	}
}

func newMigrateCmd(state *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := initializeDatabase(state.cfg.Database)
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()

			if err := models.AutoMigrate(db); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			logrus.Info("Schema is up to date")
			return nil
		},
	}
}

func newSweepCmd(state *runtimeState) *cobra.Command {
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep pass and print its summary",
	}

	var timeout time.Duration
	sweep.PersistentFlags().DurationVar(&timeout, "timeout", 0, "bound for the pass (defaults to SWEEP_TIMEOUT)")

	run := func(pick func(app *Application) func(ctx context.Context) (*dto.SweepResult, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := initializeApplication(state.cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Close(context.Background())

			d := timeout
			if d <= 0 {
				d = state.cfg.Sweep.Timeout
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			result, err := pick(app)(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
	}

	sweep.AddCommand(
		&cobra.Command{
			Use:   "scheduled",
			Short: "Send scheduled messages that are due",
			RunE: run(func(app *Application) func(context.Context) (*dto.SweepResult, error) {
				return app.scheduled.Sweep
			}),
		},
		&cobra.Command{
			Use:   "sequences",
			Short: "Advance sequence enrollments that are due",
			RunE: run(func(app *Application) func(context.Context) (*dto.SweepResult, error) {
				return app.sequences.Sweep
			}),
		},
	)
	return sweep
}
