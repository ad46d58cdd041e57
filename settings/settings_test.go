package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/genai-bot/storage"
	"github.com/songzhibin97/genai-bot/types"
)

// MockGenerator is a simple ID generator for testing.
type MockGenerator struct {
	mu sync.Mutex
	id uint64
}

func (g *MockGenerator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id++
	return g.id, nil
}

type failingGenerator struct{}

func (failingGenerator) NextID() (uint64, error) { return 0, errors.New("clock moved backwards") }

func newTestService(t *testing.T) (*Service, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	svc, err := NewService(store, &MockGenerator{}, "sdxl.safetensors")
	require.NoError(t, err)
	return svc, store
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil, &MockGenerator{}, "")
	assert.Error(t, err)
	_, err = NewService(storage.NewMemoryStorage(), nil, "")
	assert.Error(t, err)
}

func TestEnsureUser(t *testing.T) {
	ctx := context.Background()

	t.Run("ProvisionsDefaults", func(t *testing.T) {
		svc, _ := newTestService(t)

		us, err := svc.EnsureUser(ctx, "u1")
		require.NoError(t, err)
		assert.NotZero(t, us.ActiveTextConfigID)
		assert.NotZero(t, us.ActiveImageConfigID)

		text, err := svc.ActiveText(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, types.DefaultConfigName, text.Name)
		assert.Equal(t, types.DefaultSystemPrompt, text.SystemPrompt)

		image, err := svc.ActiveImage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, types.DefaultPositivePrompt, image.PositivePrompt)
		assert.Equal(t, types.DefaultNegativePrompt, image.NegativePrompt)
		assert.Equal(t, types.DefaultSteps, image.Steps)
		assert.Equal(t, types.DefaultCFG, image.CFG)
		assert.Equal(t, "sdxl.safetensors", image.Model)
	})

	t.Run("Idempotent", func(t *testing.T) {
		svc, _ := newTestService(t)
		first, err := svc.EnsureUser(ctx, "u1")
		require.NoError(t, err)
		second, err := svc.EnsureUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		list, err := svc.List(ctx, "u1", types.KindText)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("ConcurrentFirstUse", func(t *testing.T) {
		svc, _ := newTestService(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.EnsureUser(ctx, "u1")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		list, err := svc.List(ctx, "u1", types.KindImage)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("GeneratorFailure", func(t *testing.T) {
		svc, err := NewService(storage.NewMemoryStorage(), failingGenerator{}, "")
		require.NoError(t, err)
		_, err = svc.EnsureUser(ctx, "u1")
		assert.Error(t, err)
	})
}

type constantGenerator uint64

func (g constantGenerator) NextID() (uint64, error) { return uint64(g), nil }

func TestRestartKeepsRecords(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	first, err := NewService(store, &MockGenerator{}, "sdxl.safetensors")
	require.NoError(t, err)
	alice, err := first.EnsureUser(ctx, "alice")
	require.NoError(t, err)

	// A restarted process that replays the IDs already handed out.
	second, err := NewService(store, &MockGenerator{}, "sdxl.safetensors")
	require.NoError(t, err)
	bob, err := second.EnsureUser(ctx, "bob")
	require.NoError(t, err)

	assert.NotEqual(t, alice.ActiveTextConfigID, bob.ActiveTextConfigID)
	assert.NotEqual(t, alice.ActiveImageConfigID, bob.ActiveImageConfigID)
	assert.NotEqual(t, alice.ActiveTextConfigID, bob.ActiveImageConfigID)

	text, err := second.ActiveText(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", text.UserID)
	image, err := second.ActiveImage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", image.UserID)

	list, err := second.List(ctx, "bob", types.KindText)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	t.Run("ExhaustedAttempts", func(t *testing.T) {
		stuck, err := NewService(store, constantGenerator(alice.ActiveTextConfigID), "")
		require.NoError(t, err)
		_, err = stuck.SaveText(ctx, types.TextConfig{UserID: "mallory", Name: "x", SystemPrompt: "y"})
		assert.ErrorIs(t, err, storage.ErrExists)

		text, err := first.ActiveText(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", text.UserID)
	})
}

func TestNewIDGenerator(t *testing.T) {
	before, err := NewIDGenerator(1).NextID()
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	// Generators created later keep counting from the same epoch.
	after, err := NewIDGenerator(1).NextID()
	require.NoError(t, err)
	assert.Greater(t, after, before)

	other, err := NewIDGenerator(2).NextID()
	require.NoError(t, err)
	assert.NotEqual(t, after, other)
}

func TestSaveAndOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created, err := svc.SaveImage(ctx, types.ImageConfig{UserID: "u1", Name: "sketch", Steps: 10, CFG: 3})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	other, err := svc.SaveImage(ctx, types.ImageConfig{UserID: "u1", Name: "second", Steps: 10, CFG: 3})
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, other.ID)

	t.Run("UpdatePreservesID", func(t *testing.T) {
		edit := created
		edit.Name = "sketch v2"
		updated, err := svc.SaveImage(ctx, edit)
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)

		got, err := svc.ImageConfig(ctx, "u1", created.ID)
		require.NoError(t, err)
		assert.Equal(t, "sketch v2", got.Name)
	})

	t.Run("ForeignRecordIsNotFound", func(t *testing.T) {
		_, err := svc.ImageConfig(ctx, "u2", created.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		hijack := created
		hijack.UserID = "u2"
		_, err = svc.SaveImage(ctx, hijack)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = svc.SetActive(ctx, "u2", types.KindImage, created.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = svc.Delete(ctx, "u2", types.KindImage, created.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateOfDeletedRecord", func(t *testing.T) {
		_, err := svc.SaveText(ctx, types.TextConfig{ID: 999, UserID: "u1", Name: "ghost"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestSetActiveAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	poet, err := svc.SaveText(ctx, types.TextConfig{UserID: "u1", Name: "poet", SystemPrompt: "Answer in verse."})
	require.NoError(t, err)

	summary, err := svc.SetActive(ctx, "u1", types.KindText, poet.ID)
	require.NoError(t, err)
	assert.Equal(t, "poet", summary.Name)

	name, err := svc.ActiveName(ctx, "u1", types.KindText)
	require.NoError(t, err)
	assert.Equal(t, "poet", name)

	deleted, err := svc.Delete(ctx, "u1", types.KindText, poet.ID)
	require.NoError(t, err)
	assert.Equal(t, poet.ID, deleted.ID)

	_, err = svc.ActiveText(ctx, "u1")
	assert.ErrorIs(t, err, ErrNoActiveConfig)
	name, err = svc.ActiveName(ctx, "u1", types.KindText)
	require.NoError(t, err)
	assert.Empty(t, name)

	_, err = svc.Delete(ctx, "u1", types.KindText, poet.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting a non-active config leaves the pointer alone.
	image, err := svc.ActiveImage(ctx, "u1")
	require.NoError(t, err)
	extra, err := svc.SaveImage(ctx, types.ImageConfig{UserID: "u1", Name: "extra", Steps: 5, CFG: 1})
	require.NoError(t, err)
	_, err = svc.Delete(ctx, "u1", types.KindImage, extra.ID)
	require.NoError(t, err)
	still, err := svc.ActiveImage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, image.ID, still.ID)
}

func TestUpdateActiveImage(t *testing.T) {
	ctx := context.Background()
	intp := func(v int) *int { return &v }
	floatp := func(v float64) *float64 { return &v }
	strp := func(v string) *string { return &v }

	tests := []struct {
		name    string
		patch   ImagePatch
		wantErr bool
		check   func(t *testing.T, cfg types.ImageConfig)
	}{
		{name: "StepsLowerBound", patch: ImagePatch{Steps: intp(1)}, check: func(t *testing.T, cfg types.ImageConfig) { assert.Equal(t, 1, cfg.Steps) }},
		{name: "StepsUpperBound", patch: ImagePatch{Steps: intp(50)}, check: func(t *testing.T, cfg types.ImageConfig) { assert.Equal(t, 50, cfg.Steps) }},
		{name: "StepsZero", patch: ImagePatch{Steps: intp(0)}, wantErr: true},
		{name: "StepsTooMany", patch: ImagePatch{Steps: intp(51)}, wantErr: true},
		{name: "CFGZero", patch: ImagePatch{CFG: floatp(0)}, check: func(t *testing.T, cfg types.ImageConfig) { assert.Equal(t, 0.0, cfg.CFG) }},
		{name: "CFGTwenty", patch: ImagePatch{CFG: floatp(20)}, check: func(t *testing.T, cfg types.ImageConfig) { assert.Equal(t, 20.0, cfg.CFG) }},
		{name: "CFGNegative", patch: ImagePatch{CFG: floatp(-0.1)}, wantErr: true},
		{name: "CFGTooHigh", patch: ImagePatch{CFG: floatp(20.1)}, wantErr: true},
		{name: "Model", patch: ImagePatch{Model: strp("juggernaut.safetensors")}, check: func(t *testing.T, cfg types.ImageConfig) {
			assert.Equal(t, "juggernaut.safetensors", cfg.Model)
		}},
		{name: "EmptyModel", patch: ImagePatch{Model: strp("")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			before, err := svc.ActiveImage(ctx, "u1")
			require.NoError(t, err)

			cfg, err := svc.UpdateActiveImage(ctx, "u1", tt.patch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidValue)
				after, err := svc.ActiveImage(ctx, "u1")
				require.NoError(t, err)
				assert.Equal(t, before, after)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, before.ID, cfg.ID)
			tt.check(t, cfg)
		})
	}

	t.Run("NoActiveConfig", func(t *testing.T) {
		svc, _ := newTestService(t)
		image, err := svc.ActiveImage(ctx, "u1")
		require.NoError(t, err)
		_, err = svc.Delete(ctx, "u1", types.KindImage, image.ID)
		require.NoError(t, err)

		_, err = svc.UpdateActiveImage(ctx, "u1", ImagePatch{Steps: intp(10)})
		assert.ErrorIs(t, err, ErrNoActiveConfig)
	})
}
