package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/genai-bot/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	textConfigs  map[uint64]types.TextConfig
	imageConfigs map[uint64]types.ImageConfig
	settings     map[string]types.UserSettings
	members      map[types.AccessList]map[string]struct{}
	mu           sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		textConfigs:  make(map[uint64]types.TextConfig),
		imageConfigs: make(map[uint64]types.ImageConfig),
		settings:     make(map[string]types.UserSettings),
		members:      make(map[types.AccessList]map[string]struct{}),
	}
}

// getItem is a standalone generic helper function.
func getItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%v", ErrNotFound, id)
		}
		return item, nil
	})
}

func putItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K, item T) error {
	return withContextError(ctx, func() error {
		mu.Lock()
		defer mu.Unlock()
		m[id] = item
		return nil
	})
}

func insertItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K, item T) error {
	return withContextError(ctx, func() error {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := m[id]; ok {
			return fmt.Errorf("%w: id=%v", ErrExists, id)
		}
		m[id] = item
		return nil
	})
}

func deleteItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.Lock()
		defer mu.Unlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%v", ErrNotFound, id)
		}
		delete(m, id)
		return item, nil
	})
}

// listByUser collects the records owned by userID, ordered by ID.
func listByUser[T any](ctx context.Context, mu *sync.RWMutex, m map[uint64]T, owner func(T) string, userID string) ([]T, error) {
	return withContext(ctx, func() ([]T, error) {
		mu.RLock()
		defer mu.RUnlock()
		ids := make([]uint64, 0)
		for id, item := range m {
			if owner(item) == userID {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]T, 0, len(ids))
		for _, id := range ids {
			out = append(out, m[id])
		}
		return out, nil
	})
}

// CreateTextConfig inserts a text config unless its ID is taken.
func (s *MemoryStorage) CreateTextConfig(ctx context.Context, cfg types.TextConfig) error {
	return insertItem(ctx, &s.mu, s.textConfigs, cfg.ID, cfg)
}

// SaveTextConfig saves a text config to memory.
func (s *MemoryStorage) SaveTextConfig(ctx context.Context, cfg types.TextConfig) error {
	return putItem(ctx, &s.mu, s.textConfigs, cfg.ID, cfg)
}

// GetTextConfig retrieves a text config from memory.
func (s *MemoryStorage) GetTextConfig(ctx context.Context, id uint64) (types.TextConfig, error) {
	return getItem(ctx, &s.mu, s.textConfigs, id)
}

// ListTextConfigs lists a user's text configs.
func (s *MemoryStorage) ListTextConfigs(ctx context.Context, userID string) ([]types.TextConfig, error) {
	return listByUser(ctx, &s.mu, s.textConfigs, func(c types.TextConfig) string { return c.UserID }, userID)
}

// DeleteTextConfig removes a text config from memory.
func (s *MemoryStorage) DeleteTextConfig(ctx context.Context, id uint64) (types.TextConfig, error) {
	return deleteItem(ctx, &s.mu, s.textConfigs, id)
}

// CreateImageConfig inserts an image config unless its ID is taken.
func (s *MemoryStorage) CreateImageConfig(ctx context.Context, cfg types.ImageConfig) error {
	return insertItem(ctx, &s.mu, s.imageConfigs, cfg.ID, cfg)
}

// SaveImageConfig saves an image config to memory.
func (s *MemoryStorage) SaveImageConfig(ctx context.Context, cfg types.ImageConfig) error {
	return putItem(ctx, &s.mu, s.imageConfigs, cfg.ID, cfg)
}

// GetImageConfig retrieves an image config from memory.
func (s *MemoryStorage) GetImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error) {
	return getItem(ctx, &s.mu, s.imageConfigs, id)
}

// ListImageConfigs lists a user's image configs.
func (s *MemoryStorage) ListImageConfigs(ctx context.Context, userID string) ([]types.ImageConfig, error) {
	return listByUser(ctx, &s.mu, s.imageConfigs, func(c types.ImageConfig) string { return c.UserID }, userID)
}

// DeleteImageConfig removes an image config from memory.
func (s *MemoryStorage) DeleteImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error) {
	return deleteItem(ctx, &s.mu, s.imageConfigs, id)
}

// GetUserSettings retrieves a settings record from memory.
func (s *MemoryStorage) GetUserSettings(ctx context.Context, userID string) (types.UserSettings, error) {
	return getItem(ctx, &s.mu, s.settings, userID)
}

// SaveUserSettings saves a settings record to memory.
func (s *MemoryStorage) SaveUserSettings(ctx context.Context, settings types.UserSettings) error {
	return putItem(ctx, &s.mu, s.settings, settings.UserID, settings)
}

// AddMember adds member to list. Adding an existing member is a no-op.
func (s *MemoryStorage) AddMember(ctx context.Context, list types.AccessList, member string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		set, ok := s.members[list]
		if !ok {
			set = make(map[string]struct{})
			s.members[list] = set
		}
		set[member] = struct{}{}
		return nil
	})
}

// RemoveMember removes member from list. Removing an absent member is a no-op.
func (s *MemoryStorage) RemoveMember(ctx context.Context, list types.AccessList, member string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.members[list], member)
		return nil
	})
}

// IsMember reports whether member is in list.
func (s *MemoryStorage) IsMember(ctx context.Context, list types.AccessList, member string) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		_, ok := s.members[list][member]
		return ok, nil
	})
}

// CountMembers returns the size of list.
func (s *MemoryStorage) CountMembers(ctx context.Context, list types.AccessList) (int, error) {
	return withContext(ctx, func() (int, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.members[list]), nil
	})
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStorage) Close() error {
	return nil
}
