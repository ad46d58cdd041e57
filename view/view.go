// Package view is the platform-neutral description of what the bot shows:
// messages, select menus, buttons, modal forms and attachments. Platform
// adapters translate it into their own widgets.
package view

import "context"

// MessageLimit is the maximum message length accepted by the chat platform.
const MessageLimit = 2000

// ButtonStyle selects the visual weight of a Button.
type ButtonStyle int

const (
	Primary ButtonStyle = iota
	Secondary
	Danger
)

// Button is a clickable component; ID is echoed back when pressed.
type Button struct {
	ID    string
	Label string
	Style ButtonStyle
}

// Option is one entry of a Select.
type Option struct {
	Label string
	Value string
}

// Select is a single-choice menu; ID is echoed back with the chosen value.
type Select struct {
	ID          string
	Placeholder string
	Options     []Option
}

// File is a binary attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is a reply or an edit of a previous reply.
// A nil Select and empty Buttons clear any components on edit.
type Message struct {
	Content   string
	Ephemeral bool
	Select    *Select
	Buttons   []Button
	Files     []File
}

// Field is a text input of a Modal.
type Field struct {
	ID        string
	Label     string
	Paragraph bool
	Required  bool
	Value     string
}

// Modal is a pop-up form; ID is echoed back with the submitted field values.
type Modal struct {
	ID     string
	Title  string
	Fields []Field
}

// Responder answers one inbound interaction. Reply, Update, ShowModal,
// Acknowledge and Defer are initial responses: exactly one of them may be used
// per interaction. EditReply edits the response afterwards.
type Responder interface {
	UserID() string
	ChannelID() string

	// Reply sends a new message in response to the interaction.
	Reply(ctx context.Context, msg Message) error
	// Update replaces the message that carried the pressed component.
	Update(ctx context.Context, msg Message) error
	// ShowModal opens a form.
	ShowModal(ctx context.Context, modal Modal) error
	// Acknowledge accepts the interaction without a visible change.
	Acknowledge(ctx context.Context) error
	// Defer shows a pending state; the answer follows through EditReply.
	Defer(ctx context.Context, ephemeral bool) error
	// EditReply edits the message produced by the initial response.
	EditReply(ctx context.Context, msg Message) error
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
