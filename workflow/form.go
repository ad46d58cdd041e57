package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/songzhibin97/genai-bot/rules"
	"github.com/songzhibin97/genai-bot/types"
	"github.com/songzhibin97/genai-bot/view"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("invalid form input")

// ValidationError lists the form fields that failed their rules.
type ValidationError struct {
	Fields   []string
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", strings.Join(e.Fields, ", "), strings.Join(e.Messages, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Form field ids.
const (
	FieldName           = "config-name"
	FieldSystemPrompt   = "system-prompt"
	FieldPositivePrompt = "positive-prompt"
	FieldNegativePrompt = "negative-prompt"
	FieldSteps          = "steps"
	FieldCFG            = "cfg"
)

var nameRule = rules.Rule{Field: FieldName, Expression: `len(trim(name)) > 0`, Message: "Config name must not be empty."}

var textRules = []rules.Rule{
	nameRule,
	{Field: FieldSystemPrompt, Expression: `len(trim(system_prompt)) > 0`, Message: "System prompt must not be empty."},
}

var imageRules = []rules.Rule{
	nameRule,
	{Field: FieldSteps, Expression: `steps_parsed && steps >= 1 && steps <= 50`, Message: "Steps must be a whole number from 1 to 50."},
	{Field: FieldCFG, Expression: `cfg_parsed && cfg >= 0.0 && cfg <= 20.0`, Message: "CFG must be a number from 0 to 20."},
}

// ParseTextForm validates submitted text-config fields.
func ParseTextForm(ev rules.Evaluator, fields map[string]string) (types.TextConfig, error) {
	cfg := types.TextConfig{
		Name:         strings.TrimSpace(fields[FieldName]),
		SystemPrompt: fields[FieldSystemPrompt],
	}
	env := map[string]interface{}{
		"name":          cfg.Name,
		"system_prompt": cfg.SystemPrompt,
	}
	if err := check(ev, textRules, env); err != nil {
		return types.TextConfig{}, err
	}
	return cfg, nil
}

// ParseImageForm validates submitted image-config fields. The model is not
// part of the form and is left empty.
func ParseImageForm(ev rules.Evaluator, fields map[string]string) (types.ImageConfig, error) {
	steps, stepsErr := strconv.Atoi(strings.TrimSpace(fields[FieldSteps]))
	cfgValue, cfgErr := strconv.ParseFloat(strings.TrimSpace(fields[FieldCFG]), 64)

	cfg := types.ImageConfig{
		Name:           strings.TrimSpace(fields[FieldName]),
		PositivePrompt: fields[FieldPositivePrompt],
		NegativePrompt: fields[FieldNegativePrompt],
		Steps:          steps,
		CFG:            cfgValue,
	}
	env := map[string]interface{}{
		"name":         cfg.Name,
		"steps":        steps,
		"steps_parsed": stepsErr == nil,
		"cfg":          cfgValue,
		"cfg_parsed":   cfgErr == nil,
	}
	if err := check(ev, imageRules, env); err != nil {
		return types.ImageConfig{}, err
	}
	return cfg, nil
}

func check(ev rules.Evaluator, ruleset []rules.Rule, env map[string]interface{}) error {
	failed, err := rules.Check(ev, ruleset, env)
	if err != nil {
		return fmt.Errorf("evaluate form rules: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}
	verr := &ValidationError{}
	for _, r := range failed {
		verr.Fields = append(verr.Fields, r.Field)
		verr.Messages = append(verr.Messages, r.Message)
	}
	return verr
}

// Placeholder texts of a fresh form.
const (
	placeholderPositive = "This is your image prompt.\nUse {prompt} to insert the user input.\n" +
		`eg. "Image of {prompt}, black and white, sketchy, abstract, by Picasso"`
	placeholderNegative = `This is the prompt for the AI to ignore.` + "\n" + `eg. "bad hands, AI artifacts"`
	placeholderSteps    = "20"
	placeholderCFG      = "1"
)

// TextModal builds the text-config form; existing pre-fills it for editing.
func TextModal(token string, existing *types.TextConfig) view.Modal {
	name, prompt, title := "", types.DefaultSystemPrompt, "CREATE NEW LLM CONFIG"
	if existing != nil {
		name, prompt, title = existing.Name, existing.SystemPrompt, "EDIT LLM CONFIG"
	}
	return view.Modal{
		ID:    TokenAction(ActionSubmit, types.KindText, token).String(),
		Title: title,
		Fields: []view.Field{
			{ID: FieldName, Label: "Config Name", Required: true, Value: name},
			{ID: FieldSystemPrompt, Label: "System Prompt", Paragraph: true, Required: true, Value: prompt},
		},
	}
}

// ImageModal builds the image-config form; existing pre-fills it for editing.
func ImageModal(token string, existing *types.ImageConfig) view.Modal {
	title := "CREATE NEW IMAGE CONFIG"
	name, positive, negative, steps, cfg := "", placeholderPositive, placeholderNegative, placeholderSteps, placeholderCFG
	if existing != nil {
		title = "EDIT IMAGE CONFIG"
		name, positive, negative = existing.Name, existing.PositivePrompt, existing.NegativePrompt
		steps = strconv.Itoa(existing.Steps)
		cfg = strconv.FormatFloat(existing.CFG, 'f', -1, 64)
	}
	return view.Modal{
		ID:    TokenAction(ActionSubmit, types.KindImage, token).String(),
		Title: title,
		Fields: []view.Field{
			{ID: FieldName, Label: "Config Name", Required: true, Value: name},
			{ID: FieldPositivePrompt, Label: "Positive Prompt", Paragraph: true, Required: true, Value: positive},
			{ID: FieldNegativePrompt, Label: "Negative Prompt", Paragraph: true, Value: negative},
			{ID: FieldSteps, Label: "Steps (1-50)", Required: true, Value: steps},
			{ID: FieldCFG, Label: "CFG (0-20)", Required: true, Value: cfg},
		},
	}
}
