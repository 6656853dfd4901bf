package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/app"
	"github.com/JakeFAU/content-crawler/internal/config"
	"github.com/JakeFAU/content-crawler/internal/logging"
)

// appFactory builds the services a command runs against.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)

type appKey struct{}

// newRootCmd creates the root command. The App is built after flags are
// parsed; withApp closes it once the subcommand returns.
func newRootCmd(build appFactory) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "contentcrawler",
		Short: "Crawls Qiita stocks, YouTube playlists and liked tweets into one record store.",
		Long: `contentcrawler pulls the content a user has saved on Qiita, YouTube and
Twitter, normalizes it into uniform records and keeps a record store in
sync, either on demand from the command line or behind an HTTP API.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			a, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newSyncCmd(),
		newLatestCmd(),
		newRecordsCmd(),
		newExportCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey{}).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// withApp adapts a command body that needs the App and releases the App
// afterwards, whether or not the body failed.
func withApp(run func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				a.Logger.Warn("close application services", zap.Error(err))
			}
			_ = a.Logger.Sync()
		}()
		return run(cmd, a, args)
	}
}
