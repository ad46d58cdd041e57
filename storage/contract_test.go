package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/genai-bot/types"
)

// Helper function to create a sample image config
func newImageConfig(id uint64, userID string) types.ImageConfig {
	return types.ImageConfig{
		ID:             id,
		UserID:         userID,
		Name:           "sketch",
		PositivePrompt: "a sketch of {prompt}",
		NegativePrompt: "blurry",
		Steps:          20,
		CFG:            7.5,
		Model:          "sdxl.safetensors",
	}
}

// runStorageContract exercises the behaviour every backend must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("SaveAndGetTextConfig", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		cfg := types.TextConfig{ID: 11, UserID: "u1", Name: "pirate", SystemPrompt: "talk like a pirate"}
		require.NoError(t, store.SaveTextConfig(ctx, cfg))

		got, err := store.GetTextConfig(ctx, 11)
		assert.NoError(t, err)
		assert.Equal(t, cfg, got)

		_, err = store.GetTextConfig(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdatePreservesIdentity", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		cfg := newImageConfig(21, "u1")
		require.NoError(t, store.SaveImageConfig(ctx, cfg))
		cfg.Steps = 30
		require.NoError(t, store.SaveImageConfig(ctx, cfg))

		list, err := store.ListImageConfigs(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, uint64(21), list[0].ID)
		assert.Equal(t, 30, list[0].Steps)
	})

	t.Run("CreateRefusesTakenID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		alice := types.TextConfig{ID: 41, UserID: "alice", Name: "Default", SystemPrompt: "be brief"}
		require.NoError(t, store.CreateTextConfig(ctx, alice))
		bob := types.TextConfig{ID: 41, UserID: "bob", Name: "Default", SystemPrompt: "be verbose"}
		assert.ErrorIs(t, store.CreateTextConfig(ctx, bob), ErrExists)

		got, err := store.GetTextConfig(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, alice, got)
		list, err := store.ListTextConfigs(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, store.CreateImageConfig(ctx, newImageConfig(42, "alice")))
		assert.ErrorIs(t, store.CreateImageConfig(ctx, newImageConfig(42, "bob")), ErrExists)
		img, err := store.GetImageConfig(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, "alice", img.UserID)
	})

	t.Run("ListByUser", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.SaveImageConfig(ctx, newImageConfig(33, "u1")))
		require.NoError(t, store.SaveImageConfig(ctx, newImageConfig(31, "u1")))
		require.NoError(t, store.SaveImageConfig(ctx, newImageConfig(32, "u2")))

		list, err := store.ListImageConfigs(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, uint64(31), list[0].ID)
		assert.Equal(t, uint64(33), list[1].ID)

		empty, err := store.ListTextConfigs(ctx, "nobody")
		assert.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		cfg := newImageConfig(41, "u1")
		require.NoError(t, store.SaveImageConfig(ctx, cfg))

		deleted, err := store.DeleteImageConfig(ctx, 41)
		assert.NoError(t, err)
		assert.Equal(t, cfg, deleted)

		_, err = store.GetImageConfig(ctx, 41)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.DeleteImageConfig(ctx, 41)
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := store.ListImageConfigs(ctx, "u1")
		assert.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("UserSettings", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetUserSettings(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)

		settings := types.UserSettings{UserID: "u1", ActiveTextConfigID: 1, ActiveImageConfigID: 2}
		require.NoError(t, store.SaveUserSettings(ctx, settings))

		got, err := store.GetUserSettings(ctx, "u1")
		assert.NoError(t, err)
		assert.Equal(t, settings, got)
	})

	t.Run("AccessLists", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		n, err := store.CountMembers(ctx, types.ListChannels)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, store.AddMember(ctx, types.ListBans, "u9"))
		require.NoError(t, store.AddMember(ctx, types.ListBans, "u9"))

		ok, err := store.IsMember(ctx, types.ListBans, "u9")
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.IsMember(ctx, types.ListAdmins, "u9")
		assert.NoError(t, err)
		assert.False(t, ok)

		n, err = store.CountMembers(ctx, types.ListBans)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, store.RemoveMember(ctx, types.ListBans, "u9"))
		ok, err = store.IsMember(ctx, types.ListBans, "u9")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})
}
