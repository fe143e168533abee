package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/slipstream/acquire/internal/api"
	"github.com/slipstream/acquire/internal/app"
	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/database"
	"github.com/slipstream/acquire/internal/logger"
	"github.com/slipstream/acquire/internal/scheduler"
	"github.com/slipstream/acquire/internal/scheduler/tasks"
	"github.com/slipstream/acquire/internal/startup"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "acquire",
		Short:         "Search indexers for music releases and hand the best one to a downloader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = config.Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(RunServeCommand(&configPath))
	rootCmd.AddCommand(RunSearchCommand(&configPath))
	rootCmd.AddCommand(RunCheckCommand(&configPath))
	rootCmd.AddCommand(RunMigrateCommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every command starts from.
type env struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	e.log.Close()
}

func setup(ctx context.Context, configPath string, migrate bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	log := logger.New(logger.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Path:          cfg.Logging.Path,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxBackups:    cfg.Logging.MaxBackups,
		MaxAgeDays:    cfg.Logging.MaxAgeDays,
		Compress:      cfg.Logging.Compress,
		RecentEntries: cfg.Logging.RecentEntries,
		Output:        os.Stderr,
	})

	var db *database.DB
	err = startup.WithRetry(ctx, "open database", startup.DefaultRetryConfig(), func() error {
		var openErr error
		db, openErr = database.New(cfg.Database.Path)
		return openErr
	}, log.Logger)
	if err != nil {
		log.Close()
		return nil, errors.Wrap(err, "open database")
	}

	if migrate {
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			log.Close()
			return nil, errors.Wrap(err, "migrate database")
		}
		if len(applied) > 0 {
			log.Info().Ints64("versions", applied).Msg("Applied database migrations")
		}
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the completion poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := setup(ctx, *configPath, true)
			if err != nil {
				return err
			}
			defer e.Close()

			a, err := app.Build(e.cfg, e.db.Conn(), e.log.Logger)
			if err != nil {
				return err
			}

			sched, err := scheduler.New(e.log.Logger)
			if err != nil {
				return err
			}
			if err := tasks.RegisterCompletionPollTask(sched, a.Poller, e.cfg.Poller); err != nil {
				return errors.Wrap(err, "schedule completion poll")
			}
			sched.Start()
			defer func() {
				if err := sched.Stop(); err != nil {
					e.log.Error().Err(err).Msg("scheduler shutdown error")
				}
			}()

			server := api.NewServer(e.cfg, api.Deps{
				Search:    a.Search,
				Grab:      a.Grab,
				Ledger:    a.Ledger,
				Registry:  a.Registry,
				Scheduler: sched,
				Poller:    a.Poller,
				Notify:    a.Notify,
				Logs:      e.log,
			}, e.log.Logger)

			e.log.Info().
				Str("version", config.Version).
				Int("providers", len(a.Providers)).
				Strs("backends", backendNames(a)).
				Msg("starting acquire")

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(e.cfg.Server.Address()) }()

			select {
			case <-ctx.Done():
				e.log.Info().Msg("received shutdown signal")
			case err := <-errCh:
				return errors.Wrap(err, "http server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				e.log.Error().Err(err).Msg("server shutdown error")
			}
			e.log.Info().Msg("server stopped")
			return nil
		},
	}
}

func backendNames(a *app.App) []string {
	var names []string
	for _, t := range a.Registry.Types() {
		names = append(names, string(t))
	}
	return names
}
