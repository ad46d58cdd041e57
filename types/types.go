package types

import "fmt"

// Kind selects which configuration schema and which remote service a record belongs to.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// ParseKind validates a kind read from an action token or a command.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindImage:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown config kind %q", s)
}

// Display is the heading used for the kind in the settings view.
func (k Kind) Display() string {
	if k == KindText {
		return "LLM"
	}
	return "Image"
}

// TextConfig is a saved system prompt for the text-completion service.
type TextConfig struct {
	ID           uint64 `json:"id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

// ImageConfig is a saved parameter set for the image-diffusion service.
// PositivePrompt is a template; "{prompt}" marks where the user's text goes.
type ImageConfig struct {
	ID             uint64  `json:"id"`
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	PositivePrompt string  `json:"positive_prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	Model          string  `json:"model"`
}

// UserSettings points at the configurations a user's next command will use.
// A zero ID means no active configuration.
type UserSettings struct {
	UserID              string `json:"user_id"`
	ActiveTextConfigID  uint64 `json:"active_text_config_id"`
	ActiveImageConfigID uint64 `json:"active_image_config_id"`
}

// Active returns the active pointer for kind.
func (u UserSettings) Active(kind Kind) uint64 {
	if kind == KindText {
		return u.ActiveTextConfigID
	}
	return u.ActiveImageConfigID
}

// SetActive re-points the active configuration for kind.
func (u *UserSettings) SetActive(kind Kind, id uint64) {
	if kind == KindText {
		u.ActiveTextConfigID = id
		return
	}
	u.ActiveImageConfigID = id
}

// ConfigSummary is the kind-independent view of a configuration used by menus.
type ConfigSummary struct {
	ID     uint64
	UserID string
	Name   string
}

func (c TextConfig) Summary() ConfigSummary {
	return ConfigSummary{ID: c.ID, UserID: c.UserID, Name: c.Name}
}

func (c ImageConfig) Summary() ConfigSummary {
	return ConfigSummary{ID: c.ID, UserID: c.UserID, Name: c.Name}
}

// AccessList names one of the access-control member sets.
type AccessList string

const (
	ListAdmins   AccessList = "admin"
	ListBans     AccessList = "ban"
	ListChannels AccessList = "channel"
)

// Defaults applied when a user first interacts with the bot.
const (
	DefaultConfigName     = "Default"
	DefaultSystemPrompt   = "You are a helpful assistant."
	DefaultPositivePrompt = "{prompt}"
	DefaultNegativePrompt = "bad hands, ai artifacts"
	DefaultSteps          = 20
	DefaultCFG            = 2.1
)

// DefaultTextConfig returns the starter text config for userID.
func DefaultTextConfig(userID string) TextConfig {
	return TextConfig{UserID: userID, Name: DefaultConfigName, SystemPrompt: DefaultSystemPrompt}
}

// DefaultImageConfig returns the starter image config for userID using model.
func DefaultImageConfig(userID, model string) ImageConfig {
	return ImageConfig{
		UserID:         userID,
		Name:           DefaultConfigName,
		PositivePrompt: DefaultPositivePrompt,
		NegativePrompt: DefaultNegativePrompt,
		Steps:          DefaultSteps,
		CFG:            DefaultCFG,
		Model:          model,
	}
}
