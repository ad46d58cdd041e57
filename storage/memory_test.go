package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/songzhibin97/genai-bot/types"
)

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})

	t.Run("NewMemoryStorage", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NotNil(t, store)
		assert.Empty(t, store.textConfigs)
		assert.Empty(t, store.imageConfigs)
		assert.Empty(t, store.settings)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.SaveTextConfig(ctx, types.TextConfig{ID: 1})
		assert.ErrorIs(t, err, context.Canceled)

		_, err = store.GetTextConfig(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		for i := 1; i <= 50; i++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				cfg := types.TextConfig{ID: id, UserID: "u1", Name: fmt.Sprintf("cfg-%d", id)}
				assert.NoError(t, store.SaveTextConfig(ctx, cfg))
				_, err := store.GetTextConfig(ctx, id)
				assert.NoError(t, err)
			}(uint64(i))
		}
		wg.Wait()

		list, err := store.ListTextConfigs(ctx, "u1")
		assert.NoError(t, err)
		assert.Len(t, list, 50)
	})
}
