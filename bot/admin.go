package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/songzhibin97/genai-bot/access"
	"github.com/songzhibin97/genai-bot/view"
)

func (b *Bot) admin(ctx context.Context, r view.Responder, req Request) error {
	caller := r.UserID()
	user, hasUser := req.Options.User("user")
	channel, hasChannel := req.Options.Channel("channel")

	var (
		err  error
		done string
	)
	switch req.Subcommand {
	case SubAddAdmin:
		if !hasUser {
			break
		}
		err = b.opts.Access.AddAdmin(ctx, caller, user.ID)
		done = fmt.Sprintf("%s has been made an admin.", user.Name)
	case SubRemoveAdmin:
		if !hasUser {
			break
		}
		err = b.opts.Access.RemoveAdmin(ctx, caller, user.ID)
		done = fmt.Sprintf("%s is no longer an admin.", user.Name)
	case SubBan:
		if !hasUser {
			break
		}
		err = b.opts.Access.Ban(ctx, caller, user.ID)
		done = fmt.Sprintf("%s has been banned.", user.Name)
	case SubUnban:
		if !hasUser {
			break
		}
		err = b.opts.Access.Unban(ctx, caller, user.ID)
		done = fmt.Sprintf("%s has been unbanned.", user.Name)
	case SubAddChannel:
		if !hasChannel {
			break
		}
		err = b.opts.Access.AllowChannel(ctx, caller, channel.ID)
		done = fmt.Sprintf("Channel %s has been added to allowed channels.", channel.Name)
	case SubRemoveChannel:
		if !hasChannel {
			break
		}
		err = b.opts.Access.DisallowChannel(ctx, caller, channel.ID)
		done = fmt.Sprintf("Channel %s has been removed from allowed channels.", channel.Name)
	}

	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		return r.Reply(ctx, ephemeral(MsgNoPermission))
	case errors.Is(err, access.ErrGlobalAdmin):
		return r.Reply(ctx, ephemeral("Cannot remove the global admin."))
	case errors.Is(err, access.ErrBanAdmin):
		return r.Reply(ctx, ephemeral("Cannot ban an admin."))
	case err != nil:
		return err
	case done == "":
		return r.Reply(ctx, ephemeral(MsgInvalidCommand))
	}
	b.logger.Info("admin command", "subcommand", req.Subcommand, "caller", caller, "user", user.ID, "channel", channel.ID)
	return r.Reply(ctx, view.Message{Content: done})
}
