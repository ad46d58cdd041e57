package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/genai-bot/config"
	"github.com/songzhibin97/genai-bot/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearTokenEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("GENAI_BOT_DISCORD_TOKEN", "")
}

const memoryConfig = `
discord:
  token: test-token
  app_id: "123"
features:
  text: true
  image: true
comfy:
  url: http://127.0.0.1:8188
  model_mappings: %s
storage:
  driver: memory
`

func fmtConfig(mappings string) string {
	return fmt.Sprintf(memoryConfig, mappings)
}

func TestBuild(t *testing.T) {
	clearTokenEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.json")
	cfg, err := config.Load(writeConfig(t, fmtConfig(missing)), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(true))

	a, err := build(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.bot)
	assert.NotNil(t, a.adapter)
	assert.NotNil(t, a.comfy)
	assert.NotNil(t, a.workflows)
	assert.Contains(t, a.health.Checks, "storage")
	assert.NoError(t, a.store.Ping(context.Background()))

	t.Run("TextOnly", func(t *testing.T) {
		cfg.Features.Image = false
		defer func() { cfg.Features.Image = true }()
		a, err := build(context.Background(), cfg, logging.Nop())
		require.NoError(t, err)
		defer a.Close()
		assert.Nil(t, a.comfy)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg.Storage.Driver = "sqlite"
		defer func() { cfg.Storage.Driver = "memory" }()
		_, err := build(context.Background(), cfg, logging.Nop())
		assert.ErrorContains(t, err, `unknown storage driver "sqlite"`)
	})
}

func TestLoadCatalog(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		catalog, err := loadCatalog(filepath.Join(t.TempDir(), "absent.json"), logging.Nop())
		require.NoError(t, err)
		assert.Empty(t, catalog.Choices())
	})

	t.Run("Present", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model_mappings.json")
		body := `{"maps": [{"model": "sdxl.safetensors", "display_name": "SDXL"}], "default_model": "sdxl.safetensors"}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		catalog, err := loadCatalog(path, logging.Nop())
		require.NoError(t, err)
		assert.Equal(t, "sdxl.safetensors", catalog.Default())
		assert.Len(t, catalog.Choices(), 1)
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model_mappings.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := loadCatalog(path, logging.Nop())
		assert.Error(t, err)
	})
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "register")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env"))

	t.Run("RunRequiresToken", func(t *testing.T) {
		clearTokenEnv(t)
		path := writeConfig(t, "features:\n  text: true\n")
		root := newRootCmd()
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs([]string{"run", "--config", path})
		err := root.ExecuteContext(context.Background())
		assert.ErrorContains(t, err, "discord.token is required")
	})
}
