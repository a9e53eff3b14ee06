// Package cmd defines and implements the CLI commands for the statutecrawler
// executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/app"
	"github.com/JakeFAU/statute-crawler/internal/config"
	"github.com/JakeFAU/statute-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// NewRootCmd creates the root command. The returned cleanup closes the
// services built for the subcommand that ran; it is safe to call when none
// were built.
func NewRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile  string
		instance *app.App
	)

	cmd := &cobra.Command{
		Use:   "statutecrawler",
		Short: "Token-pooled crawler for the banklaw statute API.",
		Long: `statutecrawler keeps a shared pool of banklaw access tokens healthy and
drives crawl windows over the statute API until every indexed document of
a window has been archived.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, build the logger and the
		// application services, and hand them to the subcommand via context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			instance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env STATUTE_* overrides")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newPoolCmd())
	cmd.AddCommand(newServeCmd())

	cleanup := func() {
		if instance != nil {
			instance.Close()
			instance = nil
		}
	}
	return cmd, cleanup
}

// Execute runs the CLI under ctx. Cancelling ctx is the way to stop a crawl.
func Execute(ctx context.Context) error {
	root, cleanup := NewRootCmd()
	defer cleanup()
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
