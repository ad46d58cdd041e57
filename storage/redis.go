package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/genai-bot/types"
)

const (
	textConfigPrefix   = "text_config:"
	imageConfigPrefix  = "image_config:"
	userSettingsPrefix = "user_settings:"
	userIndexPrefix    = "user:"
	accessPrefix       = "access:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Records are JSON values; each user has an id set per config kind for listing.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

func recordKey(prefix string, id uint64) string {
	return prefix + strconv.FormatUint(id, 10)
}

func userIndexKey(userID, collection string) string {
	return userIndexPrefix + userID + ":" + collection
}

// saveRecord stores value under prefix+id and indexes it under its owner.
func (s *RedisStorage) saveRecord(ctx context.Context, prefix string, id uint64, userID string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s%d: %w", prefix, id, err)
		}
		key := recordKey(prefix, id)
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, userIndexKey(userID, prefix), id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// createRecord is saveRecord guarded by SET NX; a taken key yields ErrExists.
func (s *RedisStorage) createRecord(ctx context.Context, prefix string, id uint64, userID string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s%d: %w", prefix, id, err)
		}
		key := recordKey(prefix, id)
		ok, err := s.client.SetNX(ctx, key, data, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to create %s in Redis: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("%w: key=%s", ErrExists, key)
		}
		if err := s.client.SAdd(ctx, userIndexKey(userID, prefix), id).Err(); err != nil {
			return fmt.Errorf("failed to index %s: %w", key, err)
		}
		return nil
	})
}

// getFromRedis retrieves and unmarshals a value stored under key.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// listFromRedis loads every record indexed under the user's set for prefix.
func listFromRedis[T any](ctx context.Context, client *redis.Client, prefix, userID string) ([]T, error) {
	return withContext(ctx, func() ([]T, error) {
		members, err := client.SMembers(ctx, userIndexKey(userID, prefix)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list %s for user %s: %w", prefix, userID, err)
		}
		ids := make([]uint64, 0, len(members))
		for _, m := range members {
			id, err := strconv.ParseUint(m, 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		out := make([]T, 0, len(ids))
		if len(ids) == 0 {
			return out, nil
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = recordKey(prefix, id)
		}
		values, err := client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load %s for user %s: %w", prefix, userID, err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// dangling index entry
				continue
			}
			var item T
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
			}
			out = append(out, item)
		}
		return out, nil
	})
}

// deleteFromRedis removes the record under prefix+id and drops it from its owner's index.
func deleteFromRedis[T any](ctx context.Context, client *redis.Client, prefix string, id uint64, owner func(T) string) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		key := recordKey(prefix, id)
		data, err := client.GetDel(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to delete %s from Redis: %w", key, err)
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		if err := client.SRem(ctx, userIndexKey(owner(item), prefix), id).Err(); err != nil {
			return zero, fmt.Errorf("failed to unindex %s: %w", key, err)
		}
		return item, nil
	})
}

// CreateTextConfig inserts a text config unless its ID is taken.
func (s *RedisStorage) CreateTextConfig(ctx context.Context, cfg types.TextConfig) error {
	return s.createRecord(ctx, textConfigPrefix, cfg.ID, cfg.UserID, cfg)
}

// SaveTextConfig saves a text config to Redis.
func (s *RedisStorage) SaveTextConfig(ctx context.Context, cfg types.TextConfig) error {
	return s.saveRecord(ctx, textConfigPrefix, cfg.ID, cfg.UserID, cfg)
}

// GetTextConfig retrieves a text config from Redis.
func (s *RedisStorage) GetTextConfig(ctx context.Context, id uint64) (types.TextConfig, error) {
	return getFromRedis[types.TextConfig](ctx, s.client, recordKey(textConfigPrefix, id))
}

// ListTextConfigs lists a user's text configs from Redis.
func (s *RedisStorage) ListTextConfigs(ctx context.Context, userID string) ([]types.TextConfig, error) {
	return listFromRedis[types.TextConfig](ctx, s.client, textConfigPrefix, userID)
}

// DeleteTextConfig removes a text config from Redis.
func (s *RedisStorage) DeleteTextConfig(ctx context.Context, id uint64) (types.TextConfig, error) {
	return deleteFromRedis(ctx, s.client, textConfigPrefix, id, func(c types.TextConfig) string { return c.UserID })
}

// CreateImageConfig inserts an image config unless its ID is taken.
func (s *RedisStorage) CreateImageConfig(ctx context.Context, cfg types.ImageConfig) error {
	return s.createRecord(ctx, imageConfigPrefix, cfg.ID, cfg.UserID, cfg)
}

// SaveImageConfig saves an image config to Redis.
func (s *RedisStorage) SaveImageConfig(ctx context.Context, cfg types.ImageConfig) error {
	return s.saveRecord(ctx, imageConfigPrefix, cfg.ID, cfg.UserID, cfg)
}

// GetImageConfig retrieves an image config from Redis.
func (s *RedisStorage) GetImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error) {
	return getFromRedis[types.ImageConfig](ctx, s.client, recordKey(imageConfigPrefix, id))
}

// ListImageConfigs lists a user's image configs from Redis.
func (s *RedisStorage) ListImageConfigs(ctx context.Context, userID string) ([]types.ImageConfig, error) {
	return listFromRedis[types.ImageConfig](ctx, s.client, imageConfigPrefix, userID)
}

// DeleteImageConfig removes an image config from Redis.
func (s *RedisStorage) DeleteImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error) {
	return deleteFromRedis(ctx, s.client, imageConfigPrefix, id, func(c types.ImageConfig) string { return c.UserID })
}

// GetUserSettings retrieves a settings record from Redis.
func (s *RedisStorage) GetUserSettings(ctx context.Context, userID string) (types.UserSettings, error) {
	return getFromRedis[types.UserSettings](ctx, s.client, userSettingsPrefix+userID)
}

// SaveUserSettings saves a settings record to Redis.
func (s *RedisStorage) SaveUserSettings(ctx context.Context, settings types.UserSettings) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings for %s: %w", settings.UserID, err)
		}
		key := userSettingsPrefix + settings.UserID
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// AddMember adds member to the list's set.
func (s *RedisStorage) AddMember(ctx context.Context, list types.AccessList, member string) error {
	return withContextError(ctx, func() error {
		if err := s.client.SAdd(ctx, accessPrefix+string(list), member).Err(); err != nil {
			return fmt.Errorf("failed to add %s to %s: %w", member, list, err)
		}
		return nil
	})
}

// RemoveMember removes member from the list's set.
func (s *RedisStorage) RemoveMember(ctx context.Context, list types.AccessList, member string) error {
	return withContextError(ctx, func() error {
		if err := s.client.SRem(ctx, accessPrefix+string(list), member).Err(); err != nil {
			return fmt.Errorf("failed to remove %s from %s: %w", member, list, err)
		}
		return nil
	})
}

// IsMember reports whether member is in the list's set.
func (s *RedisStorage) IsMember(ctx context.Context, list types.AccessList, member string) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		ok, err := s.client.SIsMember(ctx, accessPrefix+string(list), member).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check %s in %s: %w", member, list, err)
		}
		return ok, nil
	})
}

// CountMembers returns the cardinality of the list's set.
func (s *RedisStorage) CountMembers(ctx context.Context, list types.AccessList) (int, error) {
	return withContext(ctx, func() (int, error) {
		n, err := s.client.SCard(ctx, accessPrefix+string(list)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", list, err)
		}
		return int(n), nil
	})
}

// Ping checks the Redis connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
