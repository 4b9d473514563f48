package cmd

import (
	"context"
	"fmt"
	"os"

	"nendo/config"
	"nendo/core/nendo"
	"nendo/logger"

	"github.com/spf13/cobra"
)

var (
	configFile  string
	libraryPath string
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "nendo",
	Short:         "nendo manages an audio asset library and runs plugins on it.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := os.Setenv("NENDO_CONFIG_FILE", configFile); err != nil {
				return err
			}
		}
		cfg = config.Load()
		if libraryPath != "" {
			cfg.LibraryPath = libraryPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.InitLogger(logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (toml, yaml or json)")
	rootCmd.PersistentFlags().StringVar(&libraryPath, "library", "", "library directory, overrides NENDO_LIBRARY_PATH")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openNendo builds the library context for one command run.
func openNendo(ctx context.Context) (*nendo.Nendo, error) {
	n, err := nendo.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	return n, nil
}

// withNendo runs fn against an open library and closes it afterwards.
func withNendo(ctx context.Context, fn func(n *nendo.Nendo) error) error {
	n, err := openNendo(ctx)
	if err != nil {
		return err
	}
	defer n.Close()
	return fn(n)
}

// mutate is withNendo under the exclusive library lock.
func mutate(ctx context.Context, fn func(n *nendo.Nendo) error) error {
	unlock, err := lockLibrary(ctx, cfg.LibraryPath)
	if err != nil {
		return err
	}
	defer unlock()
	return withNendo(ctx, fn)
}
