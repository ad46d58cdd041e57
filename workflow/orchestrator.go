package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/songzhibin97/genai-bot/logging"
	"github.com/songzhibin97/genai-bot/models"
	"github.com/songzhibin97/genai-bot/rules"
	"github.com/songzhibin97/genai-bot/storage"
	"github.com/songzhibin97/genai-bot/types"
	"github.com/songzhibin97/genai-bot/view"
)

// User-facing notices of the settings view.
const (
	NoticeStartOver      = "An error occurred. Please start over."
	NoticeConfigNotFound = "Config not found. Please try again."
	NoticeAlreadyDeleted = "Config not found or already deleted."
	NoticeUnknownAction  = "This control is no longer supported. Please reopen the settings."
)

// ConfigService is the configuration persistence used by the orchestrator.
type ConfigService interface {
	List(ctx context.Context, userID string, kind types.Kind) ([]types.ConfigSummary, error)
	ActiveName(ctx context.Context, userID string, kind types.Kind) (string, error)
	Summary(ctx context.Context, userID string, kind types.Kind, id uint64) (types.ConfigSummary, error)
	TextConfig(ctx context.Context, userID string, id uint64) (types.TextConfig, error)
	ImageConfig(ctx context.Context, userID string, id uint64) (types.ImageConfig, error)
	SaveText(ctx context.Context, cfg types.TextConfig) (types.TextConfig, error)
	SaveImage(ctx context.Context, cfg types.ImageConfig) (types.ImageConfig, error)
	SetActive(ctx context.Context, userID string, kind types.Kind, id uint64) (types.ConfigSummary, error)
	Delete(ctx context.Context, userID string, kind types.Kind, id uint64) (types.ConfigSummary, error)
}

// ModelCatalog lists the selectable image models.
type ModelCatalog interface {
	Choices() []models.Mapping
	Default() string
}

// Orchestrator drives the settings view: listing, activating, deleting and the
// multi-step create and edit workflows.
type Orchestrator struct {
	store     *Store
	configs   ConfigService
	catalog   ModelCatalog
	evaluator rules.Evaluator
	logger    logging.Logger
}

// NewOrchestrator wires an Orchestrator. A nil evaluator selects the expr evaluator.
func NewOrchestrator(store *Store, configs ConfigService, catalog ModelCatalog, evaluator rules.Evaluator, logger logging.Logger) (*Orchestrator, error) {
	if store == nil || configs == nil || catalog == nil {
		return nil, errors.New("store, configs and catalog are required")
	}
	if evaluator == nil {
		evaluator = rules.NewExprEvaluator()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{store: store, configs: configs, catalog: catalog, evaluator: evaluator, logger: logger}, nil
}

// OpenSettings answers a settings command with the menu for kind.
func (o *Orchestrator) OpenSettings(ctx context.Context, r view.Responder, kind types.Kind) error {
	menu, err := o.menu(ctx, r.UserID(), kind, "")
	if err != nil {
		return err
	}
	menu.Ephemeral = true
	return r.Reply(ctx, menu)
}

// HandleComponent handles a button press or select-menu choice whose custom id
// was produced by this package. values holds the selected option values.
func (o *Orchestrator) HandleComponent(ctx context.Context, r view.Responder, customID string, values []string) error {
	act, err := ParseAction(customID)
	if err != nil {
		o.logger.Warn("undecodable component", "custom_id", customID, "error", err)
		return r.Reply(ctx, view.Message{Content: NoticeUnknownAction, Ephemeral: true})
	}

	switch act.Type {
	case ActionNew:
		return o.start(ctx, r, act.Kind)
	case ActionSelect:
		return o.showConfig(ctx, r, act.Kind, values)
	case ActionSetActive:
		return o.setActive(ctx, r, act)
	case ActionEdit:
		return o.edit(ctx, r, act)
	case ActionDelete:
		return o.delete(ctx, r, act)
	case ActionChooseModel:
		return o.chooseModel(ctx, r, act, values)
	}
	return r.Reply(ctx, view.Message{Content: NoticeUnknownAction, Ephemeral: true})
}

// HandleModal handles a submitted configuration form.
func (o *Orchestrator) HandleModal(ctx context.Context, r view.Responder, customID string, fields map[string]string) error {
	act, err := ParseAction(customID)
	if err != nil || act.Type != ActionSubmit {
		o.logger.Warn("undecodable modal", "custom_id", customID, "error", err)
		return r.Reply(ctx, view.Message{Content: NoticeUnknownAction, Ephemeral: true})
	}
	user := r.UserID()

	st, err := o.store.Get(act.Token, user)
	if err != nil {
		return o.startOver(ctx, r, act.Kind, false)
	}

	var (
		text  types.TextConfig
		image types.ImageConfig
	)
	if st.Kind == types.KindText {
		text, err = ParseTextForm(o.evaluator, fields)
	} else {
		image, err = ParseImageForm(o.evaluator, fields)
	}
	if errors.Is(err, ErrValidation) {
		// The workflow stays live so the form can be submitted again.
		var verr *ValidationError
		errors.As(err, &verr)
		return r.Reply(ctx, view.Message{
			Content:   "Invalid input. Please try again.\n" + strings.Join(verr.Messages, "\n"),
			Ephemeral: true,
		})
	}
	if err != nil {
		return err
	}

	// Take decides which of several concurrent submissions persists.
	st, err = o.store.Take(act.Token, user)
	if err != nil {
		return o.startOver(ctx, r, act.Kind, false)
	}

	var name string
	if st.Kind == types.KindText {
		text.ID, text.UserID = st.EditingID, user
		text, err = o.configs.SaveText(ctx, text)
		name = text.Name
	} else {
		image.ID, image.UserID, image.Model = st.EditingID, user, st.ModelID
		if image.Model == "" {
			image.Model = o.catalog.Default()
		}
		image, err = o.configs.SaveImage(ctx, image)
		name = image.Name
	}

	var notice string
	switch {
	case err == nil:
		notice = fmt.Sprintf("%s config **%s** saved successfully.", st.Kind.Display(), name)
	case errors.Is(err, storage.ErrNotFound):
		notice = NoticeConfigNotFound
	default:
		o.logger.Error("save config", "user_id", user, "kind", st.Kind, "error", err)
		if o.store.Restore(st) {
			notice = fmt.Sprintf("Failed to save %s config. Please try again.", st.Kind.Display())
		} else {
			notice = fmt.Sprintf("Failed to save %s config. Please start over with New Config.", st.Kind.Display())
		}
	}

	menu, err := o.menu(ctx, user, st.Kind, notice)
	if err != nil {
		return err
	}
	if st.Origin != nil {
		err := st.Origin.EditReply(ctx, menu)
		if err == nil {
			return r.Acknowledge(ctx)
		}
		o.logger.Warn("edit origin interaction", "token", st.Token, "error", err)
	}
	menu.Ephemeral = true
	return r.Reply(ctx, menu)
}

func (o *Orchestrator) start(ctx context.Context, r view.Responder, kind types.Kind) error {
	user := r.UserID()
	if kind == types.KindText {
		token := o.store.Create(user, kind, r, "", 0)
		return r.ShowModal(ctx, TextModal(token, nil))
	}

	choices := o.catalog.Choices()
	if len(choices) == 0 {
		// Nothing to choose from: go straight to the form with the default model.
		token := o.store.Create(user, kind, r, o.catalog.Default(), 0)
		return r.ShowModal(ctx, ImageModal(token, nil))
	}

	token := o.store.Create(user, kind, r, "", 0)
	sel := &view.Select{
		ID:          TokenAction(ActionChooseModel, kind, token).String(),
		Placeholder: "Select a model",
	}
	for _, m := range choices {
		sel.Options = append(sel.Options, view.Option{Label: m.DisplayName, Value: m.Model})
	}
	return r.Update(ctx, view.Message{Content: "Please select a model:", Select: sel})
}

func (o *Orchestrator) chooseModel(ctx context.Context, r view.Responder, act Action, values []string) error {
	if len(values) == 0 || values[0] == "" {
		return o.startOver(ctx, r, act.Kind, true)
	}
	st, err := o.store.Update(act.Token, r.UserID(), func(s *State) {
		if s.Kind != types.KindImage {
			return
		}
		s.ModelID = values[0]
		s.Stage = StageAwaitingForm
	})
	if err != nil || st.Kind != types.KindImage {
		return o.startOver(ctx, r, act.Kind, true)
	}
	return r.ShowModal(ctx, ImageModal(st.Token, nil))
}

func (o *Orchestrator) showConfig(ctx context.Context, r view.Responder, kind types.Kind, values []string) error {
	var id uint64
	if len(values) > 0 {
		id, _ = strconv.ParseUint(values[0], 10, 64)
	}
	summary, err := o.configs.Summary(ctx, r.UserID(), kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return o.updateMenu(ctx, r, kind, NoticeConfigNotFound)
	}
	if err != nil {
		return err
	}
	return r.Update(ctx, view.Message{
		Content: fmt.Sprintf("**%s**", summary.Name),
		Buttons: []view.Button{
			{ID: ConfigAction(ActionSetActive, kind, id).String(), Label: "Set Active", Style: view.Primary},
			{ID: ConfigAction(ActionEdit, kind, id).String(), Label: "Edit", Style: view.Secondary},
			{ID: ConfigAction(ActionDelete, kind, id).String(), Label: "Delete", Style: view.Danger},
		},
	})
}

func (o *Orchestrator) setActive(ctx context.Context, r view.Responder, act Action) error {
	summary, err := o.configs.SetActive(ctx, r.UserID(), act.Kind, act.ConfigID)
	if errors.Is(err, storage.ErrNotFound) {
		return o.updateMenu(ctx, r, act.Kind, NoticeConfigNotFound)
	}
	if err != nil {
		return err
	}
	return o.updateMenu(ctx, r, act.Kind, fmt.Sprintf("%s config **%s** set as active.", act.Kind.Display(), summary.Name))
}

func (o *Orchestrator) edit(ctx context.Context, r view.Responder, act Action) error {
	user := r.UserID()
	if act.Kind == types.KindText {
		cfg, err := o.configs.TextConfig(ctx, user, act.ConfigID)
		if errors.Is(err, storage.ErrNotFound) {
			return o.updateMenu(ctx, r, act.Kind, NoticeConfigNotFound)
		}
		if err != nil {
			return err
		}
		token := o.store.Create(user, act.Kind, r, "", cfg.ID)
		return r.ShowModal(ctx, TextModal(token, &cfg))
	}

	cfg, err := o.configs.ImageConfig(ctx, user, act.ConfigID)
	if errors.Is(err, storage.ErrNotFound) {
		return o.updateMenu(ctx, r, act.Kind, NoticeConfigNotFound)
	}
	if err != nil {
		return err
	}
	token := o.store.Create(user, act.Kind, r, cfg.Model, cfg.ID)
	return r.ShowModal(ctx, ImageModal(token, &cfg))
}

func (o *Orchestrator) delete(ctx context.Context, r view.Responder, act Action) error {
	summary, err := o.configs.Delete(ctx, r.UserID(), act.Kind, act.ConfigID)
	if errors.Is(err, storage.ErrNotFound) {
		return o.updateMenu(ctx, r, act.Kind, NoticeAlreadyDeleted)
	}
	if err != nil {
		return err
	}
	return o.updateMenu(ctx, r, act.Kind, fmt.Sprintf("%s config **%s** has been deleted.", act.Kind.Display(), summary.Name))
}

// startOver re-renders the menu with NoticeStartOver on the current interaction.
func (o *Orchestrator) startOver(ctx context.Context, r view.Responder, kind types.Kind, component bool) error {
	menu, err := o.menu(ctx, r.UserID(), kind, NoticeStartOver)
	if err != nil {
		return err
	}
	if component {
		return r.Update(ctx, menu)
	}
	menu.Ephemeral = true
	return r.Reply(ctx, menu)
}

func (o *Orchestrator) updateMenu(ctx context.Context, r view.Responder, kind types.Kind, notice string) error {
	menu, err := o.menu(ctx, r.UserID(), kind, notice)
	if err != nil {
		return err
	}
	return r.Update(ctx, menu)
}

// menu renders the settings view of kind for user.
func (o *Orchestrator) menu(ctx context.Context, user string, kind types.Kind, notice string) (view.Message, error) {
	// ActiveName provisions a first-time user's defaults, so it runs before List.
	active, err := o.configs.ActiveName(ctx, user, kind)
	if err != nil {
		return view.Message{}, fmt.Errorf("active config: %w", err)
	}
	configs, err := o.configs.List(ctx, user, kind)
	if err != nil {
		return view.Message{}, fmt.Errorf("list configs: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, ">\n**__%s SETTINGS__**\n\n", strings.ToUpper(kind.Display()))
	if active != "" {
		fmt.Fprintf(&b, "Active config: **%s**\n\n", active)
	}
	if notice != "" {
		b.WriteString("\n\n" + notice)
	}

	msg := view.Message{
		Content: b.String(),
		Buttons: []view.Button{{ID: NewAction(kind).String(), Label: "New Config", Style: view.Primary}},
	}
	if len(configs) > 0 {
		msg.Select = &view.Select{ID: SelectAction(kind).String(), Placeholder: "Select a config"}
		for _, c := range configs {
			msg.Select.Options = append(msg.Select.Options, view.Option{Label: c.Name, Value: strconv.FormatUint(c.ID, 10)})
		}
	}
	return msg, nil
}
