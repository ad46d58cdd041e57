package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/songzhibin97/genai-bot/comfy"
	"github.com/songzhibin97/genai-bot/settings"
	"github.com/songzhibin97/genai-bot/types"
	"github.com/songzhibin97/genai-bot/view"
)

// ImageFileName is the attachment name of generated images.
const ImageFileName = "generated_image.png"

var (
	stepsRange = fmt.Sprintf("Steps must be between %d and %d.", settings.MinSteps, settings.MaxSteps)
	cfgRange   = fmt.Sprintf("CFG must be between %g and %g.", settings.MinCFG, settings.MaxCFG)
)

func ephemeral(content string) view.Message {
	return view.Message{Content: content, Ephemeral: true}
}

func formatCFG(cfg float64) string {
	return strconv.FormatFloat(cfg, 'f', -1, 64)
}

func (b *Bot) openSettings(kind types.Kind) handlerFunc {
	return func(ctx context.Context, r view.Responder, _ Request) error {
		return b.opts.View.OpenSettings(ctx, r, kind)
	}
}

func (b *Bot) gpt(ctx context.Context, r view.Responder, req Request) error {
	prompt, ok := req.Options.String("prompt")
	if !ok {
		return r.Reply(ctx, ephemeral(MsgMissingArgument))
	}
	cfg, err := b.opts.Settings.ActiveText(ctx, r.UserID())
	if errors.Is(err, settings.ErrNoActiveConfig) {
		return r.Reply(ctx, ephemeral(MsgNoActiveText))
	}
	if err != nil {
		return err
	}

	if err := r.Defer(ctx, false); err != nil {
		return err
	}
	answer, err := b.opts.Text.Complete(ctx, cfg.SystemPrompt, 0, prompt)
	if err != nil {
		b.logger.Error("gpt completion", "user_id", r.UserID(), "error", err)
		return r.EditReply(ctx, view.Message{Content: MsgTextFailed})
	}
	content := view.Truncate("**"+prompt+"**\n*"+answer, view.MessageLimit-3) + "**"
	return r.EditReply(ctx, view.Message{Content: content})
}

func (b *Bot) imagine(ctx context.Context, r view.Responder, req Request) error {
	prompt, ok := req.Options.String("prompt")
	if !ok {
		return r.Reply(ctx, ephemeral(MsgMissingArgument))
	}
	cfg, err := b.opts.Settings.ActiveImage(ctx, r.UserID())
	if errors.Is(err, settings.ErrNoActiveConfig) {
		return r.Reply(ctx, ephemeral(MsgNoActiveImage))
	}
	if err != nil {
		return err
	}

	if v, ok := req.Options.String("positive_prompt"); ok {
		cfg.PositivePrompt = v
	}
	if v, ok := req.Options.String("negative_prompt"); ok {
		cfg.NegativePrompt = v
	}
	if v, ok := req.Options.Int("steps"); ok {
		if err := settings.ValidateSteps(int(v)); err != nil {
			return r.Reply(ctx, ephemeral(stepsRange))
		}
		cfg.Steps = int(v)
	}
	if v, ok := req.Options.Float("cfg"); ok {
		if err := settings.ValidateCFG(v); err != nil {
			return r.Reply(ctx, ephemeral(cfgRange))
		}
		cfg.CFG = v
	}
	if v, ok := req.Options.String("model"); ok {
		cfg.Model = v
	}

	if !b.limiter.allow(r.UserID(), b.now()) {
		return r.Reply(ctx, ephemeral(MsgRateLimited))
	}

	graph, err := b.opts.Graphs.Build(prompt, cfg)
	if err != nil {
		return err
	}
	if err := r.Defer(ctx, false); err != nil {
		return err
	}

	img, err := b.opts.Images.Generate(ctx, graph)
	if err != nil {
		b.logger.Error("imagine", "user_id", r.UserID(), "model", cfg.Model, "error", err)
		msg := MsgImageFailed
		if errors.Is(err, comfy.ErrTimeout) {
			msg = MsgImageTimeout
		}
		return r.EditReply(ctx, view.Message{Content: msg})
	}

	caption := fmt.Sprintf("`cfg: %s / steps: %d / model: %s`\n*%s*\nNegative prompt: %s",
		formatCFG(cfg.CFG), cfg.Steps, b.opts.Catalog.FriendlyName(cfg.Model), graph.PositiveText(), cfg.NegativePrompt)
	return r.EditReply(ctx, view.Message{
		Content: view.Truncate(caption, view.MessageLimit),
		Files:   []view.File{{Name: ImageFileName, ContentType: "image/png", Data: img}},
	})
}

func (b *Bot) steps(ctx context.Context, r view.Responder, req Request) error {
	v, ok := req.Options.Int("value")
	if !ok {
		return r.Reply(ctx, ephemeral("You must provide a steps value."))
	}
	n := int(v)
	cfg, err := b.opts.Settings.UpdateActiveImage(ctx, r.UserID(), settings.ImagePatch{Steps: &n})
	if msg, handled := patchFailure(err, stepsRange); handled {
		return r.Reply(ctx, ephemeral(msg))
	}
	if err != nil {
		return err
	}
	return r.Reply(ctx, ephemeral(fmt.Sprintf("Steps value in **%s** has been updated to %d.", cfg.Name, cfg.Steps)))
}

func (b *Bot) cfg(ctx context.Context, r view.Responder, req Request) error {
	v, ok := req.Options.Float("value")
	if !ok {
		return r.Reply(ctx, ephemeral("You must provide a CFG value."))
	}
	cfg, err := b.opts.Settings.UpdateActiveImage(ctx, r.UserID(), settings.ImagePatch{CFG: &v})
	if msg, handled := patchFailure(err, cfgRange); handled {
		return r.Reply(ctx, ephemeral(msg))
	}
	if err != nil {
		return err
	}
	return r.Reply(ctx, ephemeral(fmt.Sprintf("CFG value in **%s** has been updated to %s.", cfg.Name, formatCFG(cfg.CFG))))
}

func (b *Bot) model(ctx context.Context, r view.Responder, req Request) error {
	name, ok := req.Options.String("name")
	if !ok {
		return r.Reply(ctx, ephemeral("You must provide a model name."))
	}
	if len(b.opts.Catalog.Choices()) > 0 && !b.opts.Catalog.Has(name) {
		return r.Reply(ctx, ephemeral("Unknown model. Pick one of the offered choices."))
	}
	cfg, err := b.opts.Settings.UpdateActiveImage(ctx, r.UserID(), settings.ImagePatch{Model: &name})
	if msg, handled := patchFailure(err, "You must provide a model name."); handled {
		return r.Reply(ctx, ephemeral(msg))
	}
	if err != nil {
		return err
	}
	return r.Reply(ctx, ephemeral(fmt.Sprintf("Model in **%s** has been updated to %s.", cfg.Name, b.opts.Catalog.FriendlyName(cfg.Model))))
}

// patchFailure maps the expected UpdateActiveImage errors to replies.
func patchFailure(err error, invalid string) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, settings.ErrNoActiveConfig):
		return MsgNoActiveImage, true
	case errors.Is(err, settings.ErrInvalidValue):
		return invalid, true
	}
	return "", false
}
