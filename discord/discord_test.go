package discord

import (
	"context"
	"io"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/genai-bot/bot"
	"github.com/songzhibin97/genai-bot/view"
)

type fakeAPI struct {
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	replies   []string
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, edit)
	return &discordgo.Message{}, nil
}

func (f *fakeAPI) ChannelMessageSendReply(_ string, content string, _ *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.replies = append(f.replies, content)
	return &discordgo.Message{}, nil
}

type fakeHandler struct {
	requests   []bot.Request
	components []string
	values     [][]string
	modals     map[string]map[string]string
	mentions   []bot.Mention
	answer     string
	user       string
}

func (h *fakeHandler) HandleCommand(ctx context.Context, r view.Responder, req bot.Request) error {
	h.requests = append(h.requests, req)
	h.user = r.UserID()
	return r.Reply(ctx, view.Message{Content: "ok", Ephemeral: true})
}

func (h *fakeHandler) HandleComponent(ctx context.Context, r view.Responder, customID string, values []string) error {
	h.components = append(h.components, customID)
	h.values = append(h.values, values)
	return r.Update(ctx, view.Message{Content: "updated"})
}

func (h *fakeHandler) HandleModal(ctx context.Context, r view.Responder, customID string, fields map[string]string) error {
	if h.modals == nil {
		h.modals = make(map[string]map[string]string)
	}
	h.modals[customID] = fields
	return r.Acknowledge(ctx)
}

func (h *fakeHandler) HandleMention(_ context.Context, m bot.Mention) string {
	h.mentions = append(h.mentions, m)
	return h.answer
}

func newTestAdapter(h Handler) *Adapter {
	return &Adapter{handler: h, logger: discardLogger{}, ctx: context.Background()}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

func TestComponents(t *testing.T) {
	t.Run("SelectAndButtons", func(t *testing.T) {
		opts := make([]view.Option, 30)
		for i := range opts {
			opts[i] = view.Option{Label: "cfg", Value: "v"}
		}
		rows := components(view.Message{
			Select:  &view.Select{ID: "select:text", Placeholder: "Select a config", Options: opts},
			Buttons: []view.Button{{ID: "new:text", Label: "New Config"}, {ID: "delete:text:1", Label: "Delete", Style: view.Danger}},
		})
		require.Len(t, rows, 2)

		menuRow := rows[0].(discordgo.ActionsRow)
		menu := menuRow.Components[0].(discordgo.SelectMenu)
		assert.Equal(t, "select:text", menu.CustomID)
		assert.Equal(t, discordgo.StringSelectMenu, menu.MenuType)
		assert.Len(t, menu.Options, maxSelectOptions)

		buttons := rows[1].(discordgo.ActionsRow).Components
		require.Len(t, buttons, 2)
		assert.Equal(t, discordgo.PrimaryButton, buttons[0].(discordgo.Button).Style)
		assert.Equal(t, discordgo.DangerButton, buttons[1].(discordgo.Button).Style)
	})

	t.Run("EmptyClears", func(t *testing.T) {
		rows := components(view.Message{Content: "done", Select: &view.Select{ID: "select:text"}})
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("ButtonRows", func(t *testing.T) {
		buttons := make([]view.Button, 7)
		for i := range buttons {
			buttons[i] = view.Button{ID: "b", Label: "b"}
		}
		rows := components(view.Message{Buttons: buttons})
		require.Len(t, rows, 2)
		assert.Len(t, rows[0].(discordgo.ActionsRow).Components, 5)
		assert.Len(t, rows[1].(discordgo.ActionsRow).Components, 2)
	})
}

func TestResponder(t *testing.T) {
	ctx := context.Background()
	i := &discordgo.Interaction{ChannelID: "c1", User: &discordgo.User{ID: "dm-user"}}

	api := &fakeAPI{}
	r := newResponder(api, i)
	assert.Equal(t, "dm-user", r.UserID())
	assert.Equal(t, "c1", r.ChannelID())

	require.NoError(t, r.Reply(ctx, view.Message{Content: "hi", Ephemeral: true}))
	require.NoError(t, r.Defer(ctx, true))
	require.NoError(t, r.ShowModal(ctx, view.Modal{
		ID:    "submit:text:tok",
		Title: "CREATE NEW LLM CONFIG",
		Fields: []view.Field{
			{ID: "config-name", Label: "Config Name", Required: true},
			{ID: "system-prompt", Label: "System Prompt", Paragraph: true, Value: "be nice"},
		},
	}))
	require.NoError(t, r.Acknowledge(ctx))
	require.Len(t, api.responses, 4)

	reply := api.responses[0]
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, reply.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, reply.Data.Flags)
	assert.Equal(t, "hi", reply.Data.Content)

	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, api.responses[1].Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, api.responses[1].Data.Flags)

	modal := api.responses[2]
	assert.Equal(t, discordgo.InteractionResponseModal, modal.Type)
	assert.Equal(t, "submit:text:tok", modal.Data.CustomID)
	require.Len(t, modal.Data.Components, 2)
	prompt := modal.Data.Components[1].(discordgo.ActionsRow).Components[0].(discordgo.TextInput)
	assert.Equal(t, discordgo.TextInputParagraph, prompt.Style)
	assert.Equal(t, "be nice", prompt.Value)

	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, api.responses[3].Type)

	t.Run("EditReplyWithFile", func(t *testing.T) {
		require.NoError(t, r.EditReply(ctx, view.Message{
			Content: "`cfg: 2`",
			Files:   []view.File{{Name: "generated_image.png", ContentType: "image/png", Data: []byte("png")}},
		}))
		require.Len(t, api.edits, 1)
		edit := api.edits[0]
		assert.Equal(t, "`cfg: 2`", *edit.Content)
		require.NotNil(t, edit.Components)
		assert.Empty(t, *edit.Components)
		require.Len(t, edit.Files, 1)
		data, err := io.ReadAll(edit.Files[0].Reader)
		require.NoError(t, err)
		assert.Equal(t, "png", string(data))
	})
}

func TestCommandRequest(t *testing.T) {
	t.Run("Options", func(t *testing.T) {
		req := commandRequest(discordgo.ApplicationCommandInteractionData{
			Name: "imagine",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "prompt", Type: discordgo.ApplicationCommandOptionString, Value: "cat"},
				{Name: "steps", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(30)},
				{Name: "cfg", Type: discordgo.ApplicationCommandOptionNumber, Value: 7.5},
			},
		})
		assert.Equal(t, "imagine", req.Command)
		assert.Empty(t, req.Subcommand)
		prompt, _ := req.Options.String("prompt")
		assert.Equal(t, "cat", prompt)
		steps, _ := req.Options.Int("steps")
		assert.Equal(t, int64(30), steps)
		cfg, _ := req.Options.Float("cfg")
		assert.Equal(t, 7.5, cfg)
	})

	t.Run("Subcommand", func(t *testing.T) {
		req := commandRequest(discordgo.ApplicationCommandInteractionData{
			Name: "admin",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "ban",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "42"},
				},
			}},
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Users: map[string]*discordgo.User{"42": {ID: "42", Username: "bob"}},
			},
		})
		assert.Equal(t, "ban", req.Subcommand)
		u, ok := req.Options.User("user")
		require.True(t, ok)
		assert.Equal(t, bot.User{ID: "42", Name: "bob"}, u)
	})

	t.Run("UnresolvedChannel", func(t *testing.T) {
		req := commandRequest(discordgo.ApplicationCommandInteractionData{
			Name: "admin",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "addchannel",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "7"},
				},
			}},
		})
		c, ok := req.Options.Channel("channel")
		require.True(t, ok)
		assert.Equal(t, bot.Channel{ID: "7", Name: "<#7>"}, c)
	})
}

func TestCommands(t *testing.T) {
	choices := make([]bot.Choice, 30)
	for i := range choices {
		choices[i] = bot.Choice{Name: "m", Value: "m"}
	}
	lo, hi := 1.0, 50.0
	cmds := Commands([]bot.Definition{{
		Name:        "imagine",
		Description: "Generate an image based on a prompt",
		Options: []bot.OptionDef{
			{Type: bot.OptionString, Name: "prompt", Description: "p", Required: true},
			{Type: bot.OptionInteger, Name: "steps", Description: "s", Min: &lo, Max: &hi},
			{Type: bot.OptionString, Name: "model", Description: "m", Choices: choices},
		},
	}})
	require.Len(t, cmds, 1)
	opts := cmds[0].Options
	require.Len(t, opts, 3)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[0].Type)
	assert.True(t, opts[0].Required)
	assert.Equal(t, discordgo.ApplicationCommandOptionInteger, opts[1].Type)
	assert.Equal(t, 1.0, *opts[1].MinValue)
	assert.Equal(t, 50.0, opts[1].MaxValue)
	assert.Len(t, opts[2].Choices, maxChoices)

	t.Run("AllBotCommands", func(t *testing.T) {
		cmds := Commands(bot.Definitions(bot.Features{Text: true, Image: true}, nil))
		assert.Len(t, cmds, 8)
		admin := cmds[len(cmds)-1]
		assert.Equal(t, "admin", admin.Name)
		assert.Equal(t, discordgo.ApplicationCommandOptionSubCommand, admin.Options[0].Type)
		assert.Equal(t, discordgo.ApplicationCommandOptionUser, admin.Options[0].Options[0].Type)
	})
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	member := &discordgo.Member{User: &discordgo.User{ID: "u1"}}

	t.Run("Command", func(t *testing.T) {
		h := &fakeHandler{}
		api := &fakeAPI{}
		newTestAdapter(h).dispatch(ctx, api, &discordgo.Interaction{
			Type:   discordgo.InteractionApplicationCommand,
			Member: member,
			Data:   discordgo.ApplicationCommandInteractionData{Name: "gptsettings"},
		})
		require.Len(t, h.requests, 1)
		assert.Equal(t, "gptsettings", h.requests[0].Command)
		assert.Equal(t, "u1", h.user)
		require.Len(t, api.responses, 1)
	})

	t.Run("Component", func(t *testing.T) {
		h := &fakeHandler{}
		api := &fakeAPI{}
		newTestAdapter(h).dispatch(ctx, api, &discordgo.Interaction{
			Type:   discordgo.InteractionMessageComponent,
			Member: member,
			Data:   discordgo.MessageComponentInteractionData{CustomID: "select:text", Values: []string{"12"}},
		})
		assert.Equal(t, []string{"select:text"}, h.components)
		assert.Equal(t, [][]string{{"12"}}, h.values)
		require.Len(t, api.responses, 1)
		assert.Equal(t, discordgo.InteractionResponseUpdateMessage, api.responses[0].Type)
	})

	t.Run("Modal", func(t *testing.T) {
		h := &fakeHandler{}
		newTestAdapter(h).dispatch(ctx, &fakeAPI{}, &discordgo.Interaction{
			Type:   discordgo.InteractionModalSubmit,
			Member: member,
			Data: discordgo.ModalSubmitInteractionData{
				CustomID: "submit:text:tok",
				Components: []discordgo.MessageComponent{
					&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
						&discordgo.TextInput{CustomID: "config-name", Value: "Pirate"},
					}},
					&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
						&discordgo.TextInput{CustomID: "system-prompt", Value: "Talk like a pirate."},
					}},
				},
			},
		})
		assert.Equal(t, map[string]string{"config-name": "Pirate", "system-prompt": "Talk like a pirate."}, h.modals["submit:text:tok"])
	})

	t.Run("Ping", func(t *testing.T) {
		h := &fakeHandler{}
		api := &fakeAPI{}
		newTestAdapter(h).dispatch(ctx, api, &discordgo.Interaction{Type: discordgo.InteractionPing})
		assert.Empty(t, h.requests)
		assert.Empty(t, api.responses)
	})
}

func TestMentions(t *testing.T) {
	ctx := context.Background()
	ref := &discordgo.Message{Content: "the question"}
	author := &discordgo.User{ID: "u1"}

	t.Run("Parse", func(t *testing.T) {
		m, ok := mentionOf(&discordgo.Message{
			Author:            author,
			ChannelID:         "c1",
			Content:           "<@99> why?",
			ReferencedMessage: ref,
		}, "99")
		require.True(t, ok)
		assert.Equal(t, bot.Mention{UserID: "u1", ChannelID: "c1", Referenced: "the question", Content: "why?"}, m)

		_, ok = mentionOf(&discordgo.Message{Author: author, Content: "why?", ReferencedMessage: ref}, "99")
		assert.False(t, ok, "no mention")
		_, ok = mentionOf(&discordgo.Message{Author: author, Content: "<@99> hi"}, "99")
		assert.False(t, ok, "not a reply")
		_, ok = mentionOf(&discordgo.Message{Author: &discordgo.User{ID: "b", Bot: true}, Content: "<@99>", ReferencedMessage: ref}, "99")
		assert.False(t, ok, "bots are ignored")
	})

	t.Run("Answer", func(t *testing.T) {
		h := &fakeHandler{answer: "because"}
		api := &fakeAPI{}
		newTestAdapter(h).answerMention(ctx, api, "99", &discordgo.Message{
			ID: "m1", Author: author, ChannelID: "c1", Content: "<@!99> why?", ReferencedMessage: ref,
		})
		require.Len(t, h.mentions, 1)
		assert.Equal(t, []string{"because"}, api.replies)
	})

	t.Run("Silent", func(t *testing.T) {
		h := &fakeHandler{}
		api := &fakeAPI{}
		newTestAdapter(h).answerMention(ctx, api, "99", &discordgo.Message{
			Author: author, ChannelID: "c1", Content: "<@99> why?", ReferencedMessage: ref,
		})
		assert.Empty(t, api.replies)
	})
}

func TestNew(t *testing.T) {
	_, err := New(Options{}, &fakeHandler{})
	assert.Error(t, err)

	a, err := New(Options{Token: "abc", MentionReplies: true}, &fakeHandler{})
	require.NoError(t, err)
	assert.NotZero(t, a.session.Identify.Intents&discordgo.IntentMessageContent)

	_, err = a.Register(context.Background(), nil)
	assert.Error(t, err, "app id is required")
}
