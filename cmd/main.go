package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"blogreplay/internal/archive"
	"blogreplay/internal/config"
	"blogreplay/internal/database"
	"blogreplay/internal/feedfile"
	"blogreplay/internal/replay"
	"blogreplay/internal/scheduler"
	"blogreplay/internal/scrape"
)

const (
	progName = "blogreplay"
	version  = "0.1.0"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WarnContext(ctx, "Failed to load .env file",
			"error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           progName,
		Short:         "Replays blog archives into an Atom feed",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newScrapeCmd(cfg, log),
		newGenerateCmd(cfg, log),
		newServeCmd(cfg, log),
	)

	if err = root.ExecuteContext(ctx); err != nil {
		log.ErrorContext(ctx, "Command failed",
			"error", err)

		os.Exit(1)
	}
}

func newScrapeCmd(cfg config.Config, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <url>",
		Short: "Walk a blog's archive into the local store for later replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := database.New(ctx, cfg.DBPath, log)
			if err != nil {
				return err
			}
			defer closeDatabase(ctx, db, cfg.DBPath, log)

			client := archive.NewClient(cfg.APIKey, cfg.MaxRetries, log)

			return scrape.NewCoordinator(client, db, log).Run(ctx, args[0])
		},
	}
}

func newGenerateCmd(cfg config.Config, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Publish the next captured post of every tracked blog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := database.New(ctx, cfg.DBPath, log)
			if err != nil {
				return err
			}
			defer closeDatabase(ctx, db, cfg.DBPath, log)

			return newEngine(cfg, db, log).Run(ctx)
		},
	}
}

func newServeCmd(cfg config.Config, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep publishing posts on the configured cron cadence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := database.New(ctx, cfg.DBPath, log)
			if err != nil {
				return err
			}
			defer closeDatabase(ctx, db, cfg.DBPath, log)

			sched := scheduler.New(ctx, cfg.ReplaySpec, newEngine(cfg, db, log), log)
			if err = sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			log.InfoContext(ctx, "Scheduler is started",
				"spec", cfg.ReplaySpec)

			<-ctx.Done()
			log.InfoContext(ctx, "Exiting...")

			return nil
		},
	}
}

func newEngine(cfg config.Config, db *database.Database, log *slog.Logger) *replay.Engine {
	writer := feedfile.NewWriter(cfg.FeedDir, cfg.FeedURLBase, cfg.MaxEntries, progName, log)

	return replay.New(db, writer, log)
}

func closeDatabase(ctx context.Context, db *database.Database, dbPath string, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.ErrorContext(ctx, "Failed to close db",
			"error", err,
			"dbPath", dbPath)
	}
}
