// Package cmd defines the sheriffcrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/app"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/config"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/logging"
)

// Harvester is the application surface commands use. It lets tests inject a
// fake in place of the real object graph.
type Harvester interface {
	Run(ctx context.Context, sources []string) (app.Summary, error)
	Close() error
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to keep output quiet.
var newLogger = logging.New

type sessionKey struct{}

// session is what PersistentPreRunE hands to subcommands.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "sheriffcrawler",
		Short: "Harvests booking rosters from county sheriff websites.",
		Long: `sheriffcrawler pages through the public jail rosters of the configured
county sheriff sites, validates every booking and writes the run's bookings
as a CSV feed to blob storage, optionally mirroring them into Postgres.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The default .env is optional; an explicit --env-file must load.
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), sessionKey{}, &session{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveSession(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with CRAWLER_* overrides")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSourcesCmd())
	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	rt, ok := ctx.Value(sessionKey{}).(*session)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the run; sinks are still flushed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
