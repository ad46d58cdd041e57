package discord

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/songzhibin97/genai-bot/bot"
	"github.com/songzhibin97/genai-bot/view"
)

// Platform limits.
const (
	maxSelectOptions = 25
	maxChoices       = 25
	maxButtonsPerRow = 5
)

var buttonStyles = map[view.ButtonStyle]discordgo.ButtonStyle{
	view.Primary:   discordgo.PrimaryButton,
	view.Secondary: discordgo.SecondaryButton,
	view.Danger:    discordgo.DangerButton,
}

// components lays out msg's select menu on its own row followed by rows of buttons.
// The result is never nil so that an edit clears stale components.
func components(msg view.Message) []discordgo.MessageComponent {
	rows := []discordgo.MessageComponent{}
	if sel := msg.Select; sel != nil && len(sel.Options) > 0 {
		opts := sel.Options
		if len(opts) > maxSelectOptions {
			opts = opts[:maxSelectOptions]
		}
		menu := discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    sel.ID,
			Placeholder: sel.Placeholder,
			Options:     make([]discordgo.SelectMenuOption, 0, len(opts)),
		}
		for _, o := range opts {
			menu.Options = append(menu.Options, discordgo.SelectMenuOption{Label: o.Label, Value: o.Value})
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}})
	}

	for start := 0; start < len(msg.Buttons); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(msg.Buttons))
		row := discordgo.ActionsRow{}
		for _, b := range msg.Buttons[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				CustomID: b.ID,
				Label:    b.Label,
				Style:    buttonStyles[b.Style],
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func files(msg view.Message) []*discordgo.File {
	if len(msg.Files) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(msg.Files))
	for _, f := range msg.Files {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	return out
}

func responseData(msg view.Message) *discordgo.InteractionResponseData {
	data := &discordgo.InteractionResponseData{
		Content:    view.Truncate(msg.Content, view.MessageLimit),
		Components: components(msg),
		Files:      files(msg),
	}
	if msg.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return data
}

func webhookEdit(msg view.Message) *discordgo.WebhookEdit {
	content := view.Truncate(msg.Content, view.MessageLimit)
	comps := components(msg)
	return &discordgo.WebhookEdit{Content: &content, Components: &comps, Files: files(msg)}
}

func modalData(m view.Modal) *discordgo.InteractionResponseData {
	rows := make([]discordgo.MessageComponent, 0, len(m.Fields))
	for _, f := range m.Fields {
		style := discordgo.TextInputShort
		if f.Paragraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID: f.ID,
				Label:    f.Label,
				Style:    style,
				Required: f.Required,
				Value:    f.Value,
			},
		}})
	}
	return &discordgo.InteractionResponseData{CustomID: m.ID, Title: m.Title, Components: rows}
}

// modalFields collects the submitted text inputs keyed by custom id.
func modalFields(data discordgo.ModalSubmitInteractionData) map[string]string {
	fields := make(map[string]string)
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if in, ok := inner.(*discordgo.TextInput); ok {
				fields[in.CustomID] = in.Value
			}
		}
	}
	return fields
}

// commandRequest flattens a slash command invocation. A leading subcommand
// becomes Request.Subcommand and its options become the request options.
func commandRequest(data discordgo.ApplicationCommandInteractionData) bot.Request {
	req := bot.Request{Command: data.Name, Options: bot.Args{}}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		req.Subcommand = opts[0].Name
		opts = opts[0].Options
	}

	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			req.Options[o.Name] = o.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			req.Options[o.Name] = o.IntValue()
		case discordgo.ApplicationCommandOptionNumber:
			req.Options[o.Name] = o.FloatValue()
		case discordgo.ApplicationCommandOptionBoolean:
			req.Options[o.Name] = o.BoolValue()
		case discordgo.ApplicationCommandOptionUser:
			u := bot.User{ID: fmt.Sprint(o.Value)}
			if data.Resolved != nil {
				if ru, ok := data.Resolved.Users[u.ID]; ok && ru != nil {
					u.Name = ru.Username
				}
			}
			if u.Name == "" {
				u.Name = "<@" + u.ID + ">"
			}
			req.Options[o.Name] = u
		case discordgo.ApplicationCommandOptionChannel:
			c := bot.Channel{ID: fmt.Sprint(o.Value)}
			if data.Resolved != nil {
				if rc, ok := data.Resolved.Channels[c.ID]; ok && rc != nil {
					c.Name = rc.Name
				}
			}
			if c.Name == "" {
				c.Name = "<#" + c.ID + ">"
			}
			req.Options[o.Name] = c
		}
	}
	return req
}

var optionTypes = map[bot.OptionType]discordgo.ApplicationCommandOptionType{
	bot.OptionString:     discordgo.ApplicationCommandOptionString,
	bot.OptionInteger:    discordgo.ApplicationCommandOptionInteger,
	bot.OptionNumber:     discordgo.ApplicationCommandOptionNumber,
	bot.OptionUser:       discordgo.ApplicationCommandOptionUser,
	bot.OptionChannel:    discordgo.ApplicationCommandOptionChannel,
	bot.OptionSubcommand: discordgo.ApplicationCommandOptionSubCommand,
}

func commandOptions(defs []bot.OptionDef) []*discordgo.ApplicationCommandOption {
	if len(defs) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(defs))
	for _, d := range defs {
		opt := &discordgo.ApplicationCommandOption{
			Type:        optionTypes[d.Type],
			Name:        d.Name,
			Description: d.Description,
			Required:    d.Required,
			MinValue:    d.Min,
			Options:     commandOptions(d.Options),
		}
		if d.Max != nil {
			opt.MaxValue = *d.Max
		}
		choices := d.Choices
		if len(choices) > maxChoices {
			choices = choices[:maxChoices]
		}
		for _, c := range choices {
			opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
		}
		out = append(out, opt)
	}
	return out
}

// Commands converts command definitions into registration payloads.
func Commands(defs []bot.Definition) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(defs))
	for _, d := range defs {
		out = append(out, &discordgo.ApplicationCommand{
			Name:        d.Name,
			Description: d.Description,
			Options:     commandOptions(d.Options),
		})
	}
	return out
}

// mentionOf reports whether m replies to another message while mentioning botID.
func mentionOf(m *discordgo.Message, botID string) (bot.Mention, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.ReferencedMessage == nil || botID == "" {
		return bot.Mention{}, false
	}
	tags := []string{"<@" + botID + ">", "<@!" + botID + ">"}
	content, found := m.Content, false
	for _, tag := range tags {
		if strings.Contains(content, tag) {
			found = true
			content = strings.ReplaceAll(content, tag, "")
		}
	}
	if !found {
		return bot.Mention{}, false
	}
	return bot.Mention{
		UserID:     m.Author.ID,
		ChannelID:  m.ChannelID,
		Referenced: m.ReferencedMessage.Content,
		Content:    strings.TrimSpace(content),
	}, true
}
