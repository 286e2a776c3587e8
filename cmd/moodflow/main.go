package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hperssn/moodflow/internal/config"
	httpapi "github.com/hperssn/moodflow/internal/http"
	"github.com/hperssn/moodflow/internal/logging"
	"github.com/hperssn/moodflow/internal/notify"
	"github.com/hperssn/moodflow/internal/stats"
	"github.com/hperssn/moodflow/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "moodflow",
		Short:         "Study sessions and streak statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("MOODFLOW_CONFIG", "moodflow.toml"), "config file (toml, yaml or json)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newStatsCmd(&configPath))
	root.AddCommand(newReconcileCmd(&configPath))
	return root
}

type app struct {
	loader *config.Loader
	cfg    *config.Config
	log    *logging.Logger
	repo   storage.Repository
	hub    *notify.Hub
	svc    *stats.Service
}

func loadApp(configPath string) (*app, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger.Logger)

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}

	hub := notify.NewHub()
	svc := stats.NewService(repo, stats.Options{
		Location:        cfg.Location(),
		RecomputeOnRead: cfg.Stats.RecomputeOnRead,
		RecentLimit:     cfg.Stats.RecentLimit,
		Logger:          logger.Logger,
		Hub:             hub,
	})

	return &app{
		loader: loader,
		cfg:    cfg,
		log:    logger,
		repo:   repo,
		hub:    hub,
		svc:    svc,
	}, nil
}

func (a *app) Close() {
	_ = a.loader.Close()
	if err := a.repo.Close(); err != nil {
		a.log.Error("close storage", "error", err)
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.watchConfig(ctx, *configPath)

			handler := httpapi.NewHandler(a.svc, a.hub, a.log.Logger)
			srv := &http.Server{
				Addr:    a.cfg.Server.Addr,
				Handler: handler.Router(a.cfg.Auth.DevUser),
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("listening", "addr", srv.Addr, "storage", a.cfg.Storage.Driver)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// watchConfig reloads the log level when the config file changes, until ctx
// is done.
func (a *app) watchConfig(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	a.loader.OnChange(func(cfg *config.Config) {
		a.log.SetLevel(cfg.Logging.Level)
	})
	if err := a.loader.Watch(); err != nil {
		a.log.Warn("config watch disabled", "error", err)
		return
	}

	go logReloadErrors(ctx, a.loader.Errors(), a.log.Logger)
}

func logReloadErrors(ctx context.Context, errs <-chan error, log *slog.Logger) {
	for {
		select {
		case err := <-errs:
			log.Warn("config reload failed", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func newStatsCmd(configPath *string) *cobra.Command {
	var userID, today string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a user's study statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.svc.Report(cmd.Context(), userID, today)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&today, "today", "", "calendar day to report as of (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newReconcileCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute a user's streaks from session history and store them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			agg, err := a.svc.Reconcile(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, agg)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
