package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/genai-bot/config"
	"github.com/songzhibin97/genai-bot/logging"
)

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:          "genai-bot",
		Short:        "Discord bot for text completion and image generation",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env", "", "dotenv file loaded before the environment is read (default .env when present)")

	root.AddCommand(newRunCmd(&flags), newRegisterCmd(&flags))
	return root
}

// setup loads and validates the configuration and builds the logger.
func setup(flags *rootFlags) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(true); err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}
