package bot

import (
	"github.com/songzhibin97/genai-bot/models"
	"github.com/songzhibin97/genai-bot/settings"
)

// Command names.
const (
	CmdGPT             = "gpt"
	CmdGPTSettings     = "gptsettings"
	CmdImagine         = "imagine"
	CmdImagineSettings = "imaginesettings"
	CmdSteps           = "steps"
	CmdCFG             = "cfg"
	CmdModel           = "model"
	CmdAdmin           = "admin"
)

// Admin subcommands.
const (
	SubAddAdmin      = "addadmin"
	SubRemoveAdmin   = "removeadmin"
	SubBan           = "ban"
	SubUnban         = "unban"
	SubAddChannel    = "addchannel"
	SubRemoveChannel = "removechannel"
)

// OptionType is the value type of a command option.
type OptionType int

const (
	OptionString OptionType = iota
	OptionInteger
	OptionNumber
	OptionUser
	OptionChannel
	OptionSubcommand
)

// Choice is a fixed value offered for an option.
type Choice struct {
	Name  string
	Value string
}

// OptionDef describes one option of a command definition.
type OptionDef struct {
	Type        OptionType
	Name        string
	Description string
	Required    bool
	Min, Max    *float64
	Choices     []Choice
	Options     []OptionDef
}

// Definition describes a slash command for registration.
type Definition struct {
	Name        string
	Description string
	Options     []OptionDef
}

// Features selects which command groups are offered.
type Features struct {
	Text  bool
	Image bool
}

func bound(v float64) *float64 { return &v }

func modelChoices(catalog *models.Catalog) []Choice {
	if catalog == nil {
		return nil
	}
	maps := catalog.Choices()
	choices := make([]Choice, 0, len(maps))
	for _, m := range maps {
		choices = append(choices, Choice{Name: m.DisplayName, Value: m.Model})
	}
	return choices
}

func userOption(desc string) []OptionDef {
	return []OptionDef{{Type: OptionUser, Name: "user", Description: desc, Required: true}}
}

func channelOption(desc string) []OptionDef {
	return []OptionDef{{Type: OptionChannel, Name: "channel", Description: desc, Required: true}}
}

// Definitions returns the commands enabled by features. The admin command is
// always present. Model choices come from catalog.
func Definitions(features Features, catalog *models.Catalog) []Definition {
	var defs []Definition
	if features.Text {
		defs = append(defs,
			Definition{
				Name:        CmdGPT,
				Description: "Generate a response using GPT",
				Options: []OptionDef{
					{Type: OptionString, Name: "prompt", Description: "The prompt for GPT", Required: true},
				},
			},
			Definition{Name: CmdGPTSettings, Description: "Manage your LLM configs"},
		)
	}
	if features.Image {
		choices := modelChoices(catalog)
		defs = append(defs,
			Definition{
				Name:        CmdImagine,
				Description: "Generate an image based on a prompt",
				Options: []OptionDef{
					{Type: OptionString, Name: "prompt", Description: "The prompt for image generation", Required: true},
					{Type: OptionString, Name: "positive_prompt", Description: "Override the positive prompt template"},
					{Type: OptionString, Name: "negative_prompt", Description: "Override the negative prompt"},
					{Type: OptionInteger, Name: "steps", Description: "Override the number of steps (1-50)",
						Min: bound(settings.MinSteps), Max: bound(settings.MaxSteps)},
					{Type: OptionNumber, Name: "cfg", Description: "Override the CFG scale (0-20)",
						Min: bound(settings.MinCFG), Max: bound(settings.MaxCFG)},
					{Type: OptionString, Name: "model", Description: "Override the model", Choices: choices},
				},
			},
			Definition{Name: CmdImagineSettings, Description: "Manage your image configs"},
			Definition{
				Name:        CmdSteps,
				Description: "Update the steps value in your active Imagine config",
				Options: []OptionDef{
					{Type: OptionInteger, Name: "value", Description: "New steps value (1-50)", Required: true,
						Min: bound(settings.MinSteps), Max: bound(settings.MaxSteps)},
				},
			},
			Definition{
				Name:        CmdCFG,
				Description: "Update the CFG value in your active Imagine config",
				Options: []OptionDef{
					{Type: OptionNumber, Name: "value", Description: "New CFG value (0-20)", Required: true,
						Min: bound(settings.MinCFG), Max: bound(settings.MaxCFG)},
				},
			},
			Definition{
				Name:        CmdModel,
				Description: "Update the model in your active Imagine config",
				Options: []OptionDef{
					{Type: OptionString, Name: "name", Description: "New model name", Required: true, Choices: choices},
				},
			},
		)
	}
	defs = append(defs, Definition{
		Name:        CmdAdmin,
		Description: "Admin commands",
		Options: []OptionDef{
			{Type: OptionSubcommand, Name: SubAddAdmin, Description: "Add a new admin", Options: userOption("The user to make admin")},
			{Type: OptionSubcommand, Name: SubRemoveAdmin, Description: "Remove an admin", Options: userOption("The admin to remove")},
			{Type: OptionSubcommand, Name: SubBan, Description: "Ban a user", Options: userOption("The user to ban")},
			{Type: OptionSubcommand, Name: SubUnban, Description: "Unban a user", Options: userOption("The user to unban")},
			{Type: OptionSubcommand, Name: SubAddChannel, Description: "Add an allowed channel", Options: channelOption("The channel to allow")},
			{Type: OptionSubcommand, Name: SubRemoveChannel, Description: "Remove an allowed channel", Options: channelOption("The channel to disallow")},
		},
	})
	return defs
}
