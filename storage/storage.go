package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/genai-bot/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when a create targets an ID that is already taken.
	ErrExists = errors.New("record already exists")
)

// ConfigStore persists the per-user configuration records.
type ConfigStore interface {
	// CreateTextConfig inserts a text config; an existing ID yields ErrExists.
	CreateTextConfig(ctx context.Context, cfg types.TextConfig) error
	// SaveTextConfig inserts or replaces a text config by ID.
	SaveTextConfig(ctx context.Context, cfg types.TextConfig) error
	// GetTextConfig retrieves a text config by ID.
	GetTextConfig(ctx context.Context, id uint64) (types.TextConfig, error)
	// ListTextConfigs returns a user's text configs ordered by ID.
	ListTextConfigs(ctx context.Context, userID string) ([]types.TextConfig, error)
	// DeleteTextConfig removes a text config and returns what was removed.
	DeleteTextConfig(ctx context.Context, id uint64) (types.TextConfig, error)

	CreateImageConfig(ctx context.Context, cfg types.ImageConfig) error
	SaveImageConfig(ctx context.Context, cfg types.ImageConfig) error
	GetImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error)
	ListImageConfigs(ctx context.Context, userID string) ([]types.ImageConfig, error)
	DeleteImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error)

	// GetUserSettings retrieves a user's settings record.
	GetUserSettings(ctx context.Context, userID string) (types.UserSettings, error)
	// SaveUserSettings inserts or replaces a user's settings record.
	SaveUserSettings(ctx context.Context, settings types.UserSettings) error
}

// AccessStore persists the admin, ban and allowed-channel member sets.
type AccessStore interface {
	AddMember(ctx context.Context, list types.AccessList, member string) error
	RemoveMember(ctx context.Context, list types.AccessList, member string) error
	IsMember(ctx context.Context, list types.AccessList, member string) (bool, error)
	CountMembers(ctx context.Context, list types.AccessList) (int, error)
}

// Storage is the full persistence surface used by the bot.
type Storage interface {
	ConfigStore
	AccessStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
