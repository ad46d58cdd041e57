package main

import (
	"github.com/spf13/cobra"

	"github.com/songzhibin97/genai-bot/bot"
	"github.com/songzhibin97/genai-bot/discord"
)

func newRegisterCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Overwrite the application's slash commands",
		Long: "Overwrite the application's slash commands with the enabled command groups.\n" +
			"Commands are registered for discord.guild_id when set, globally otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := setup(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			catalog, err := loadCatalog(cfg.Comfy.ModelMappings, logger)
			if err != nil {
				return err
			}
			adapter, err := discord.New(discord.Options{
				Token:   cfg.Discord.Token,
				AppID:   cfg.Discord.AppID,
				GuildID: cfg.Discord.GuildID,
				Logger:  logger,
			}, nil)
			if err != nil {
				return err
			}

			features := bot.Features{Text: cfg.Features.Text, Image: cfg.Features.Image}
			names, err := adapter.Register(cmd.Context(), bot.Definitions(features, catalog))
			if err != nil {
				logger.Error("register commands", "error", err)
				return err
			}
			logger.Info("registered commands", "count", len(names), "commands", names,
				"text", features.Text, "image", features.Image, "guild_id", cfg.Discord.GuildID)
			return nil
		},
	}
}
