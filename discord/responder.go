package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/songzhibin97/genai-bot/view"
)

// interactionAPI is the part of *discordgo.Session used to answer interactions.
type interactionAPI interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(i *discordgo.Interaction, edit *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// responder answers one interaction through the REST API.
type responder struct {
	api         interactionAPI
	interaction *discordgo.Interaction
}

var _ view.Responder = (*responder)(nil)

func newResponder(api interactionAPI, i *discordgo.Interaction) *responder {
	return &responder{api: api, interaction: i}
}

func (r *responder) UserID() string {
	if r.interaction.Member != nil && r.interaction.Member.User != nil {
		return r.interaction.Member.User.ID
	}
	if r.interaction.User != nil {
		return r.interaction.User.ID
	}
	return ""
}

func (r *responder) ChannelID() string { return r.interaction.ChannelID }

func (r *responder) respond(ctx context.Context, resp *discordgo.InteractionResponse) error {
	return r.api.InteractionRespond(r.interaction, resp, discordgo.WithContext(ctx))
}

func (r *responder) Reply(ctx context.Context, msg view.Message) error {
	return r.respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: responseData(msg),
	})
}

func (r *responder) Update(ctx context.Context, msg view.Message) error {
	return r.respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: responseData(msg),
	})
}

func (r *responder) ShowModal(ctx context.Context, m view.Modal) error {
	return r.respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: modalData(m),
	})
}

func (r *responder) Acknowledge(ctx context.Context) error {
	return r.respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
}

func (r *responder) Defer(ctx context.Context, ephemeral bool) error {
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	return r.respond(ctx, resp)
}

func (r *responder) EditReply(ctx context.Context, msg view.Message) error {
	_, err := r.api.InteractionResponseEdit(r.interaction, webhookEdit(msg), discordgo.WithContext(ctx))
	return err
}
