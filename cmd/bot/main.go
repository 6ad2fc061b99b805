package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hray3182/MedLine/internal/config"
	"github.com/hray3182/MedLine/internal/database"
	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/logging"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/repository"
	"github.com/hray3182/MedLine/internal/scheduler"
	"github.com/hray3182/MedLine/internal/service"
)

var (
	// Global flags
	configFile string
	verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "medline",
	Short: "MedLine - medication reminders",
	Long: `MedLine keeps a list of medicines and their schedules, reminds you when a
dose is due and records whether it was taken.

Run "medline serve" to start the reminder loop and the Telegram bot. The
other commands edit and inspect the same database; a running server picks up
their changes on its next sweep.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level, cfg.Log.Pretty)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired object graph shared by every command.
type app struct {
	loc       *time.Location
	store     repository.Store
	scheduler *scheduler.Scheduler
	service   *service.Service
	tracker   *disposition.Tracker
}

// openApp connects the configured store. Commands other than serve pass
// platform.Offline: they never own timers, so schedules they touch are left
// for the server's sweep to register.
func openApp(ctx context.Context, timers platform.Timers) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	sch := scheduler.New(timers, store, logger, scheduler.WithLocation(loc))
	return &app{
		loc:       loc,
		store:     store,
		scheduler: sch,
		service:   service.New(store, sch, logger),
		tracker:   disposition.New(store, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	}
}

func (a *app) now() time.Time {
	return a.scheduler.Now()
}

func openStore(ctx context.Context) (repository.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := database.New(ctx, cfg.Database.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Debug().Msg("connected to postgres")
		return repository.NewPostgresStore(db), nil
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, nothing will be persisted")
		return repository.NewMemoryStore(), nil
	default:
		db, err := database.OpenSQLite(ctx, cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("path", cfg.Database.Path).Msg("opened sqlite database")
		return repository.NewSQLiteStore(db), nil
	}
}

// withApp runs fn against an offline app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, platform.Offline{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
