// Package bot is the command layer: it gates every interaction on the access
// lists, dispatches slash commands, and forwards settings components and
// forms to the workflow orchestrator.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/songzhibin97/genai-bot/comfy"
	"github.com/songzhibin97/genai-bot/logging"
	"github.com/songzhibin97/genai-bot/models"
	"github.com/songzhibin97/genai-bot/settings"
	"github.com/songzhibin97/genai-bot/types"
	"github.com/songzhibin97/genai-bot/view"
)

// User-visible replies shared by several handlers.
const (
	MsgBanned          = "You are banned from using this bot."
	MsgChannel         = "This bot cannot be used in this channel."
	MsgInternal        = "There was an error while executing this command!"
	MsgUnknownCommand  = "An error occurred while executing this command."
	MsgDisabled        = "This command is disabled."
	MsgNoActiveText    = "No active LLM config found. Please set one using /gptsettings."
	MsgNoActiveImage   = "No active Imagine config found. Please set one using /imaginesettings."
	MsgTextFailed      = "An error occurred while processing your request."
	MsgImageFailed     = "An error occurred while generating the image. Please try again later."
	MsgImageTimeout    = "The image worker took too long to answer. Please try again later."
	MsgRateLimited     = "You are generating images too quickly. Please wait a moment."
	MsgNoPermission    = "You do not have permission to use this command."
	MsgInvalidCommand  = "Invalid subcommand."
	MsgMissingArgument = "You must provide a prompt."
)

// DefaultMentionTokens caps the answer to a mention reply.
const DefaultMentionTokens = 100

// TextCompleter answers prompts under a system message.
type TextCompleter interface {
	Complete(ctx context.Context, system string, maxTokens int, prompts ...string) (string, error)
}

// ImageGenerator runs a job graph and returns the image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, graph comfy.Graph) ([]byte, error)
}

// GraphBuilder expands an image config into a job graph.
type GraphBuilder interface {
	Build(prompt string, cfg types.ImageConfig) (comfy.Graph, error)
}

// Settings resolves and updates the caller's active configs.
type Settings interface {
	ActiveText(ctx context.Context, userID string) (types.TextConfig, error)
	ActiveImage(ctx context.Context, userID string) (types.ImageConfig, error)
	UpdateActiveImage(ctx context.Context, userID string, patch settings.ImagePatch) (types.ImageConfig, error)
}

// SettingsView renders the settings menus and runs their workflows.
type SettingsView interface {
	OpenSettings(ctx context.Context, r view.Responder, kind types.Kind) error
	HandleComponent(ctx context.Context, r view.Responder, customID string, values []string) error
	HandleModal(ctx context.Context, r view.Responder, customID string, fields map[string]string) error
}

// AccessControl answers permission questions and runs admin operations.
type AccessControl interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
	IsAllowedChannel(ctx context.Context, channelID string) (bool, error)
	AddAdmin(ctx context.Context, caller, userID string) error
	RemoveAdmin(ctx context.Context, caller, userID string) error
	Ban(ctx context.Context, caller, userID string) error
	Unban(ctx context.Context, caller, userID string) error
	AllowChannel(ctx context.Context, caller, channelID string) error
	DisallowChannel(ctx context.Context, caller, channelID string) error
}

// Options wires a Bot. Text is required when Features.Text is set; Images and
// Graphs when Features.Image is set.
type Options struct {
	Settings Settings
	View     SettingsView
	Access   AccessControl
	Catalog  *models.Catalog
	Text     TextCompleter
	Images   ImageGenerator
	Graphs   GraphBuilder
	Features Features

	ImagesPerMinute  int
	MentionMaxTokens int
	Logger           logging.Logger
	Now              func() time.Time
}

type handlerFunc func(ctx context.Context, r view.Responder, req Request) error

// Bot dispatches interactions to command handlers.
type Bot struct {
	opts     Options
	logger   logging.Logger
	limiter  *userLimiter
	now      func() time.Time
	handlers map[string]handlerFunc
	features Features
}

// New validates opts, fills in defaults and builds the command table.
func New(opts Options) (*Bot, error) {
	if opts.Settings == nil || opts.View == nil || opts.Access == nil {
		return nil, errors.New("settings, view and access are required")
	}
	if opts.Features.Text && opts.Text == nil {
		return nil, errors.New("text features need a completer")
	}
	if opts.Features.Image && (opts.Images == nil || opts.Graphs == nil) {
		return nil, errors.New("image features need a generator and a graph builder")
	}
	if opts.Catalog == nil {
		opts.Catalog = models.New(nil, "")
	}
	if opts.MentionMaxTokens <= 0 {
		opts.MentionMaxTokens = DefaultMentionTokens
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &Bot{
		opts:     opts,
		logger:   opts.Logger,
		limiter:  newUserLimiter(opts.ImagesPerMinute),
		now:      opts.Now,
		features: opts.Features,
	}
	b.handlers = map[string]handlerFunc{
		CmdGPT:             b.text(b.gpt),
		CmdGPTSettings:     b.text(b.openSettings(types.KindText)),
		CmdImagine:         b.image(b.imagine),
		CmdImagineSettings: b.image(b.openSettings(types.KindImage)),
		CmdSteps:           b.image(b.steps),
		CmdCFG:             b.image(b.cfg),
		CmdModel:           b.image(b.model),
		CmdAdmin:           b.admin,
	}
	return b, nil
}

// HandleCommand runs a slash command.
func (b *Bot) HandleCommand(ctx context.Context, r view.Responder, req Request) error {
	return b.guard(ctx, r, "command", req.Command, func(ctx context.Context, r view.Responder) error {
		h, ok := b.handlers[req.Command]
		if !ok {
			b.logger.Warn("no command matching", "command", req.Command)
			return r.Reply(ctx, view.Message{Content: MsgUnknownCommand, Ephemeral: true})
		}
		if req.Options == nil {
			req.Options = Args{}
		}
		return h(ctx, r, req)
	})
}

// HandleComponent forwards a button press or select choice to the settings view.
func (b *Bot) HandleComponent(ctx context.Context, r view.Responder, customID string, values []string) error {
	return b.guard(ctx, r, "component", customID, func(ctx context.Context, r view.Responder) error {
		return b.opts.View.HandleComponent(ctx, r, customID, values)
	})
}

// HandleModal forwards a submitted form to the settings view.
func (b *Bot) HandleModal(ctx context.Context, r view.Responder, customID string, fields map[string]string) error {
	return b.guard(ctx, r, "modal", customID, func(ctx context.Context, r view.Responder) error {
		return b.opts.View.HandleModal(ctx, r, customID, fields)
	})
}

// guard applies the access gate, then runs fn. Errors and panics from fn are
// logged and answered with a generic reply.
func (b *Bot) guard(ctx context.Context, r view.Responder, kind, name string, fn func(context.Context, view.Responder) error) (err error) {
	tr := &tracked{Responder: r}
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("interaction panic", "kind", kind, "name", name, "user_id", r.UserID(),
				"panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			err = b.fail(ctx, tr)
		}
	}()

	allowed, err := b.permitted(ctx, tr)
	if err != nil || !allowed {
		return err
	}
	if err := fn(ctx, tr); err != nil {
		b.logger.Error("interaction failed", "kind", kind, "name", name, "user_id", r.UserID(), "error", err)
		return b.fail(ctx, tr)
	}
	return nil
}

func (b *Bot) permitted(ctx context.Context, r view.Responder) (bool, error) {
	banned, err := b.opts.Access.IsBanned(ctx, r.UserID())
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return false, r.Reply(ctx, view.Message{Content: MsgBanned, Ephemeral: true})
	}
	ok, err := b.opts.Access.IsAllowedChannel(ctx, r.ChannelID())
	if err != nil {
		return false, fmt.Errorf("check channel: %w", err)
	}
	if !ok {
		return false, r.Reply(ctx, view.Message{Content: MsgChannel, Ephemeral: true})
	}
	return true, nil
}

// fail answers with MsgInternal through whichever response is still open.
func (b *Bot) fail(ctx context.Context, r *tracked) error {
	msg := view.Message{Content: MsgInternal, Ephemeral: true}
	var err error
	if r.responded() {
		err = r.EditReply(ctx, msg)
	} else {
		err = r.Reply(ctx, msg)
	}
	if err != nil {
		b.logger.Warn("send error reply", "user_id", r.UserID(), "error", err)
	}
	return err
}

func (b *Bot) text(h handlerFunc) handlerFunc {
	return func(ctx context.Context, r view.Responder, req Request) error {
		if !b.features.Text {
			return r.Reply(ctx, view.Message{Content: MsgDisabled, Ephemeral: true})
		}
		return h(ctx, r, req)
	}
}

func (b *Bot) image(h handlerFunc) handlerFunc {
	return func(ctx context.Context, r view.Responder, req Request) error {
		if !b.features.Image {
			return r.Reply(ctx, view.Message{Content: MsgDisabled, Ephemeral: true})
		}
		return h(ctx, r, req)
	}
}

// tracked records whether an initial response has been sent.
type tracked struct {
	view.Responder
	sent atomic.Bool
}

func (t *tracked) responded() bool { return t.sent.Load() }

func (t *tracked) Reply(ctx context.Context, msg view.Message) error {
	err := t.Responder.Reply(ctx, msg)
	if err == nil {
		t.sent.Store(true)
	}
	return err
}

func (t *tracked) Update(ctx context.Context, msg view.Message) error {
	err := t.Responder.Update(ctx, msg)
	if err == nil {
		t.sent.Store(true)
	}
	return err
}

func (t *tracked) ShowModal(ctx context.Context, modal view.Modal) error {
	err := t.Responder.ShowModal(ctx, modal)
	if err == nil {
		t.sent.Store(true)
	}
	return err
}

func (t *tracked) Acknowledge(ctx context.Context) error {
	err := t.Responder.Acknowledge(ctx)
	if err == nil {
		t.sent.Store(true)
	}
	return err
}

func (t *tracked) Defer(ctx context.Context, ephemeral bool) error {
	err := t.Responder.Defer(ctx, ephemeral)
	if err == nil {
		t.sent.Store(true)
	}
	return err
}
