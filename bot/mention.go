package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/songzhibin97/genai-bot/settings"
	"github.com/songzhibin97/genai-bot/view"
)

// HandleMention answers a reply that mentions the bot, using the referenced
// message and the reply as two prompts. An empty answer means stay silent.
func (b *Bot) HandleMention(ctx context.Context, m Mention) (answer string) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("mention panic", "user_id", m.UserID, "panic", p)
			answer = MsgTextFailed
		}
	}()

	if !b.features.Text || strings.TrimSpace(m.Referenced) == "" {
		return ""
	}
	banned, err := b.opts.Access.IsBanned(ctx, m.UserID)
	if err != nil || banned {
		return ""
	}
	allowed, err := b.opts.Access.IsAllowedChannel(ctx, m.ChannelID)
	if err != nil || !allowed {
		return ""
	}

	cfg, err := b.opts.Settings.ActiveText(ctx, m.UserID)
	if errors.Is(err, settings.ErrNoActiveConfig) {
		return MsgNoActiveText
	}
	if err != nil {
		b.logger.Error("mention settings", "user_id", m.UserID, "error", err)
		return MsgTextFailed
	}

	out, err := b.opts.Text.Complete(ctx, cfg.SystemPrompt, b.opts.MentionMaxTokens, m.Referenced, strings.TrimSpace(m.Content))
	if err != nil {
		b.logger.Error("mention completion", "user_id", m.UserID, "error", err)
		return MsgTextFailed
	}
	return view.Truncate(out, view.MessageLimit)
}
