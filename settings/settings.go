// Package settings manages users' saved configurations and which of them is active.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/genai-bot/storage"
	"github.com/songzhibin97/genai-bot/types"
)

var (
	// ErrNoActiveConfig is returned when the active pointer is unset or dangling.
	ErrNoActiveConfig = errors.New("no active configuration")
	// ErrInvalidValue is returned when a parameter is out of range.
	ErrInvalidValue = errors.New("invalid value")
)

// Bounds for image generation parameters, inclusive.
const (
	MinSteps = 1
	MaxSteps = 50
	MinCFG   = 0.0
	MaxCFG   = 20.0
)

// IDEpoch is the fixed start time of config IDs. It must never change once
// records exist, or IDs issued later repeat earlier ones.
var IDEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createAttempts bounds how many fresh IDs a create tries before giving up.
const createAttempts = 3

// NewIDGenerator returns the snowflake generator for config IDs. Processes
// sharing a store need distinct node IDs.
func NewIDGenerator(node uint16) generator.Generator {
	return generator.NewSnowflake(IDEpoch, node)
}

// Service implements configuration management on top of a ConfigStore.
type Service struct {
	store        storage.ConfigStore
	generate     generator.Generator
	defaultModel string

	// ensureMu serializes first-use provisioning so two concurrent commands
	// from a new user create one set of defaults.
	ensureMu sync.Mutex
}

// NewService creates a Service. defaultModel is used for the starter image config.
func NewService(store storage.ConfigStore, generate generator.Generator, defaultModel string) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	return &Service{store: store, generate: generate, defaultModel: defaultModel}, nil
}

// EnsureUser returns the user's settings, provisioning default configs on first use.
func (s *Service) EnsureUser(ctx context.Context, userID string) (types.UserSettings, error) {
	us, err := s.store.GetUserSettings(ctx, userID)
	if err == nil {
		return us, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return types.UserSettings{}, fmt.Errorf("get user settings: %w", err)
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	if us, err = s.store.GetUserSettings(ctx, userID); err == nil {
		return us, nil
	}

	text, err := s.SaveText(ctx, types.DefaultTextConfig(userID))
	if err != nil {
		return types.UserSettings{}, err
	}
	image, err := s.SaveImage(ctx, types.DefaultImageConfig(userID, s.defaultModel))
	if err != nil {
		return types.UserSettings{}, err
	}

	us = types.UserSettings{UserID: userID, ActiveTextConfigID: text.ID, ActiveImageConfigID: image.ID}
	if err := s.store.SaveUserSettings(ctx, us); err != nil {
		return types.UserSettings{}, fmt.Errorf("save user settings: %w", err)
	}
	return us, nil
}

// ActiveText returns the user's active text config.
func (s *Service) ActiveText(ctx context.Context, userID string) (types.TextConfig, error) {
	us, err := s.EnsureUser(ctx, userID)
	if err != nil {
		return types.TextConfig{}, err
	}
	if us.ActiveTextConfigID == 0 {
		return types.TextConfig{}, ErrNoActiveConfig
	}
	cfg, err := s.TextConfig(ctx, userID, us.ActiveTextConfigID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.TextConfig{}, ErrNoActiveConfig
	}
	return cfg, err
}

// ActiveImage returns the user's active image config.
func (s *Service) ActiveImage(ctx context.Context, userID string) (types.ImageConfig, error) {
	us, err := s.EnsureUser(ctx, userID)
	if err != nil {
		return types.ImageConfig{}, err
	}
	if us.ActiveImageConfigID == 0 {
		return types.ImageConfig{}, ErrNoActiveConfig
	}
	cfg, err := s.ImageConfig(ctx, userID, us.ActiveImageConfigID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.ImageConfig{}, ErrNoActiveConfig
	}
	return cfg, err
}

// ActiveName returns the name of the active config of kind, or "" when none is set.
func (s *Service) ActiveName(ctx context.Context, userID string, kind types.Kind) (string, error) {
	var (
		name string
		err  error
	)
	if kind == types.KindText {
		var cfg types.TextConfig
		cfg, err = s.ActiveText(ctx, userID)
		name = cfg.Name
	} else {
		var cfg types.ImageConfig
		cfg, err = s.ActiveImage(ctx, userID)
		name = cfg.Name
	}
	if errors.Is(err, ErrNoActiveConfig) {
		return "", nil
	}
	return name, err
}

// TextConfig returns a text config owned by userID.
func (s *Service) TextConfig(ctx context.Context, userID string, id uint64) (types.TextConfig, error) {
	cfg, err := s.store.GetTextConfig(ctx, id)
	if err != nil {
		return types.TextConfig{}, err
	}
	if cfg.UserID != userID {
		return types.TextConfig{}, storage.ErrNotFound
	}
	return cfg, nil
}

// ImageConfig returns an image config owned by userID.
func (s *Service) ImageConfig(ctx context.Context, userID string, id uint64) (types.ImageConfig, error) {
	cfg, err := s.store.GetImageConfig(ctx, id)
	if err != nil {
		return types.ImageConfig{}, err
	}
	if cfg.UserID != userID {
		return types.ImageConfig{}, storage.ErrNotFound
	}
	return cfg, nil
}

// Summary returns the kind-independent view of one of the user's configs.
func (s *Service) Summary(ctx context.Context, userID string, kind types.Kind, id uint64) (types.ConfigSummary, error) {
	if kind == types.KindText {
		cfg, err := s.TextConfig(ctx, userID, id)
		return cfg.Summary(), err
	}
	cfg, err := s.ImageConfig(ctx, userID, id)
	return cfg.Summary(), err
}

// List returns the user's configs of kind ordered by ID.
func (s *Service) List(ctx context.Context, userID string, kind types.Kind) ([]types.ConfigSummary, error) {
	var out []types.ConfigSummary
	if kind == types.KindText {
		list, err := s.store.ListTextConfigs(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, cfg := range list {
			out = append(out, cfg.Summary())
		}
		return out, nil
	}
	list, err := s.store.ListImageConfigs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, cfg := range list {
		out = append(out, cfg.Summary())
	}
	return out, nil
}

// SaveText creates cfg when its ID is zero, otherwise replaces the existing
// record keeping its ID. Updating a config owned by someone else yields ErrNotFound.
func (s *Service) SaveText(ctx context.Context, cfg types.TextConfig) (types.TextConfig, error) {
	if cfg.ID == 0 {
		id, err := s.create(ctx, "text", func(id uint64) error {
			cfg.ID = id
			return s.store.CreateTextConfig(ctx, cfg)
		})
		cfg.ID = id
		if err != nil {
			return types.TextConfig{}, err
		}
		return cfg, nil
	}
	if _, err := s.TextConfig(ctx, cfg.UserID, cfg.ID); err != nil {
		return types.TextConfig{}, err
	}
	if err := s.store.SaveTextConfig(ctx, cfg); err != nil {
		return types.TextConfig{}, fmt.Errorf("save text config: %w", err)
	}
	return cfg, nil
}

// SaveImage is SaveText for image configs.
func (s *Service) SaveImage(ctx context.Context, cfg types.ImageConfig) (types.ImageConfig, error) {
	if cfg.ID == 0 {
		id, err := s.create(ctx, "image", func(id uint64) error {
			cfg.ID = id
			return s.store.CreateImageConfig(ctx, cfg)
		})
		cfg.ID = id
		if err != nil {
			return types.ImageConfig{}, err
		}
		return cfg, nil
	}
	if _, err := s.ImageConfig(ctx, cfg.UserID, cfg.ID); err != nil {
		return types.ImageConfig{}, err
	}
	if err := s.store.SaveImageConfig(ctx, cfg); err != nil {
		return types.ImageConfig{}, fmt.Errorf("save image config: %w", err)
	}
	return cfg, nil
}

// create inserts a new record under a fresh ID, drawing another ID when the
// store reports the first one taken. It never overwrites an existing record.
func (s *Service) create(ctx context.Context, kind string, insert func(id uint64) error) (uint64, error) {
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		var id uint64
		if id, err = s.generate.NextID(); err != nil {
			return 0, fmt.Errorf("generate id: %w", err)
		}
		if err = insert(id); err == nil {
			return id, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return 0, fmt.Errorf("create %s config: %w", kind, err)
		}
	}
	return 0, fmt.Errorf("create %s config: %w", kind, err)
}

// Delete removes one of the user's configs and clears the active pointer if it
// referenced it.
func (s *Service) Delete(ctx context.Context, userID string, kind types.Kind, id uint64) (types.ConfigSummary, error) {
	summary, err := s.Summary(ctx, userID, kind, id)
	if err != nil {
		return types.ConfigSummary{}, err
	}
	if kind == types.KindText {
		_, err = s.store.DeleteTextConfig(ctx, id)
	} else {
		_, err = s.store.DeleteImageConfig(ctx, id)
	}
	if err != nil {
		return types.ConfigSummary{}, err
	}
	if err := s.ClearActiveIf(ctx, userID, kind, id); err != nil {
		return summary, err
	}
	return summary, nil
}

// SetActive points the user's active config of kind at id.
func (s *Service) SetActive(ctx context.Context, userID string, kind types.Kind, id uint64) (types.ConfigSummary, error) {
	summary, err := s.Summary(ctx, userID, kind, id)
	if err != nil {
		return types.ConfigSummary{}, err
	}
	us, err := s.EnsureUser(ctx, userID)
	if err != nil {
		return types.ConfigSummary{}, err
	}
	us.SetActive(kind, id)
	if err := s.store.SaveUserSettings(ctx, us); err != nil {
		return types.ConfigSummary{}, fmt.Errorf("save user settings: %w", err)
	}
	return summary, nil
}

// ClearActiveIf unsets the active pointer of kind when it equals id.
func (s *Service) ClearActiveIf(ctx context.Context, userID string, kind types.Kind, id uint64) error {
	us, err := s.store.GetUserSettings(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get user settings: %w", err)
	}
	if us.Active(kind) != id {
		return nil
	}
	us.SetActive(kind, 0)
	if err := s.store.SaveUserSettings(ctx, us); err != nil {
		return fmt.Errorf("save user settings: %w", err)
	}
	return nil
}

// ImagePatch lists the fields of the active image config to change; nil fields are kept.
type ImagePatch struct {
	Steps *int
	CFG   *float64
	Model *string
}

// ValidateSteps checks steps against [MinSteps, MaxSteps].
func ValidateSteps(steps int) error {
	if steps < MinSteps || steps > MaxSteps {
		return fmt.Errorf("%w: steps must be between %d and %d", ErrInvalidValue, MinSteps, MaxSteps)
	}
	return nil
}

// ValidateCFG checks cfg against [MinCFG, MaxCFG].
func ValidateCFG(cfg float64) error {
	if !(cfg >= MinCFG && cfg <= MaxCFG) {
		return fmt.Errorf("%w: cfg must be between %g and %g", ErrInvalidValue, MinCFG, MaxCFG)
	}
	return nil
}

// UpdateActiveImage applies patch to the user's active image config.
func (s *Service) UpdateActiveImage(ctx context.Context, userID string, patch ImagePatch) (types.ImageConfig, error) {
	if patch.Steps != nil {
		if err := ValidateSteps(*patch.Steps); err != nil {
			return types.ImageConfig{}, err
		}
	}
	if patch.CFG != nil {
		if err := ValidateCFG(*patch.CFG); err != nil {
			return types.ImageConfig{}, err
		}
	}
	if patch.Model != nil && *patch.Model == "" {
		return types.ImageConfig{}, fmt.Errorf("%w: model is empty", ErrInvalidValue)
	}

	cfg, err := s.ActiveImage(ctx, userID)
	if err != nil {
		return types.ImageConfig{}, err
	}
	if patch.Steps != nil {
		cfg.Steps = *patch.Steps
	}
	if patch.CFG != nil {
		cfg.CFG = *patch.CFG
	}
	if patch.Model != nil {
		cfg.Model = *patch.Model
	}
	return s.SaveImage(ctx, cfg)
}
