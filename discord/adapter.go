// Package discord connects the bot to a Discord gateway session: it turns
// interactions and mention replies into bot calls and renders view messages
// as message components.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/songzhibin97/genai-bot/bot"
	"github.com/songzhibin97/genai-bot/logging"
	"github.com/songzhibin97/genai-bot/view"
)

// Handler is the command layer driven by the adapter.
type Handler interface {
	HandleCommand(ctx context.Context, r view.Responder, req bot.Request) error
	HandleComponent(ctx context.Context, r view.Responder, customID string, values []string) error
	HandleModal(ctx context.Context, r view.Responder, customID string, fields map[string]string) error
	HandleMention(ctx context.Context, m bot.Mention) string
}

// Options configures an Adapter.
type Options struct {
	Token          string
	AppID          string
	GuildID        string
	MentionReplies bool
	Logger         logging.Logger
}

// Adapter owns the gateway session.
type Adapter struct {
	session *discordgo.Session
	handler Handler
	opts    Options
	logger  logging.Logger
	ctx     context.Context
}

// New creates a gateway session for opts.Token. handler may be nil when the
// adapter is only used to register commands.
func New(opts Options, handler Handler) (*Adapter, error) {
	if opts.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds
	if opts.MentionReplies {
		s.Identify.Intents |= discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	}
	return &Adapter{session: s, handler: handler, opts: opts, logger: opts.Logger, ctx: context.Background()}, nil
}

// Run opens the gateway and serves events until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	if a.handler == nil {
		return errors.New("discord adapter has no handler")
	}
	a.ctx = ctx
	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	a.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		a.dispatch(a.ctx, s, i.Interaction)
	})
	if a.opts.MentionReplies {
		a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
			a.onMessage(a.ctx, s, m.Message)
		})
	}

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	a.logger.Info("discord gateway connected")
	<-ctx.Done()
	if err := a.session.Close(); err != nil {
		a.logger.Warn("close gateway", "error", err)
	}
	return nil
}

// Register replaces the application's slash commands with defs. An empty
// GuildID registers them globally.
func (a *Adapter) Register(ctx context.Context, defs []bot.Definition) ([]string, error) {
	if a.opts.AppID == "" {
		return nil, errors.New("discord app id is required")
	}
	cmds, err := a.session.ApplicationCommandBulkOverwrite(a.opts.AppID, a.opts.GuildID, Commands(defs), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("overwrite commands: %w", err)
	}
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	return names, nil
}

func (a *Adapter) dispatch(ctx context.Context, api interactionAPI, i *discordgo.Interaction) {
	r := newResponder(api, i)
	var err error
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		err = a.handler.HandleCommand(ctx, r, commandRequest(i.ApplicationCommandData()))
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		err = a.handler.HandleComponent(ctx, r, data.CustomID, data.Values)
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		err = a.handler.HandleModal(ctx, r, data.CustomID, modalFields(data))
	default:
		a.logger.Debug("ignored interaction", "type", i.Type.String())
		return
	}
	if err != nil {
		a.logger.Error("answer interaction", "type", i.Type.String(), "user_id", r.UserID(), "error", err)
	}
}

// messageAPI is the part of *discordgo.Session used to answer mentions.
type messageAPI interface {
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func (a *Adapter) onMessage(ctx context.Context, s *discordgo.Session, m *discordgo.Message) {
	if s.State == nil || s.State.User == nil {
		return
	}
	a.answerMention(ctx, s, s.State.User.ID, m)
}

func (a *Adapter) answerMention(ctx context.Context, api messageAPI, botID string, m *discordgo.Message) {
	mention, ok := mentionOf(m, botID)
	if !ok {
		return
	}
	answer := a.handler.HandleMention(ctx, mention)
	if answer == "" {
		return
	}
	if _, err := api.ChannelMessageSendReply(m.ChannelID, answer, m.Reference(), discordgo.WithContext(ctx)); err != nil {
		a.logger.Error("send mention reply", "channel_id", m.ChannelID, "error", err)
	}
}
