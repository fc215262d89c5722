// Command tierbot runs the tiered-access menu bot and its offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/devrev/tierbot/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// options holds the global flags
type options struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tierbot",
		Short: "Tiered-access menu bot",
		Long: `tierbot serves a menu-driven chat bot whose content is gated by
per-user access tiers that an administrator grants and revokes.

Configuration is read from a YAML file (--config, or ./config.yaml) and
TIERBOT_* environment variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("TIERBOT_CONFIG"), "path to the config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newEntitlementsCmd(opts),
		newCatalogCmd(opts),
		newJournalCmd(opts),
	)

	return root
}

// buildLogger builds the process logger from config. "console" selects the
// human-readable development encoder; anything else logs JSON.
func buildLogger(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
