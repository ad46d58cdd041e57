package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/songzhibin97/genai-bot/types"
)

// ActionType enumerates the component and modal actions of the settings view.
type ActionType string

const (
	ActionNew         ActionType = "new"    // new:<kind>
	ActionSelect      ActionType = "select" // select:<kind>, value carries the config id
	ActionSetActive   ActionType = "set"    // set:<kind>:<id>
	ActionEdit        ActionType = "edit"   // edit:<kind>:<id>
	ActionDelete      ActionType = "delete" // delete:<kind>:<id>
	ActionChooseModel ActionType = "model"  // model:<kind>:<token>, value carries the model
	ActionSubmit      ActionType = "submit" // submit:<kind>:<token>
)

// Action is a decoded component or modal custom id.
type Action struct {
	Type     ActionType
	Kind     types.Kind
	ConfigID uint64
	Token    string
}

const actionSep = ":"

// NewAction opens a fresh workflow.
func NewAction(kind types.Kind) Action { return Action{Type: ActionNew, Kind: kind} }

// SelectAction lists the configs of kind.
func SelectAction(kind types.Kind) Action { return Action{Type: ActionSelect, Kind: kind} }

// ConfigAction targets one stored config: set-active, edit or delete.
func ConfigAction(t ActionType, kind types.Kind, id uint64) Action {
	return Action{Type: t, Kind: kind, ConfigID: id}
}

// TokenAction continues the workflow identified by token.
func TokenAction(t ActionType, kind types.Kind, token string) Action {
	return Action{Type: t, Kind: kind, Token: token}
}

// String encodes the action as a custom id.
func (a Action) String() string {
	parts := []string{string(a.Type), string(a.Kind)}
	switch a.Type {
	case ActionSetActive, ActionEdit, ActionDelete:
		parts = append(parts, strconv.FormatUint(a.ConfigID, 10))
	case ActionChooseModel, ActionSubmit:
		parts = append(parts, a.Token)
	}
	return strings.Join(parts, actionSep)
}

// ParseAction decodes a custom id produced by Action.String.
func ParseAction(customID string) (Action, error) {
	parts := strings.Split(customID, actionSep)
	if len(parts) < 2 {
		return Action{}, fmt.Errorf("malformed action %q", customID)
	}
	kind, err := types.ParseKind(parts[1])
	if err != nil {
		return Action{}, fmt.Errorf("action %q: %w", customID, err)
	}
	a := Action{Type: ActionType(parts[0]), Kind: kind}

	switch a.Type {
	case ActionNew, ActionSelect:
		if len(parts) != 2 {
			return Action{}, fmt.Errorf("malformed action %q", customID)
		}
	case ActionSetActive, ActionEdit, ActionDelete:
		if len(parts) != 3 {
			return Action{}, fmt.Errorf("malformed action %q", customID)
		}
		id, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil || id == 0 {
			return Action{}, fmt.Errorf("action %q: bad config id", customID)
		}
		a.ConfigID = id
	case ActionChooseModel, ActionSubmit:
		if len(parts) != 3 || parts[2] == "" {
			return Action{}, fmt.Errorf("malformed action %q", customID)
		}
		a.Token = parts[2]
	default:
		return Action{}, fmt.Errorf("unknown action %q", parts[0])
	}
	return a, nil
}
