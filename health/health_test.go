package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/genai-bot/storage"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, Server{}.Router(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		srv := Server{Checks: map[string]Pinger{"storage": storage.NewMemoryStorage()}}
		rec := get(t, srv.Router(), "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Checks["storage"])
	})

	t.Run("Unavailable", func(t *testing.T) {
		srv := Server{Checks: map[string]Pinger{
			"storage": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		}}
		rec := get(t, srv.Router(), "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unavailable", body.Status)
		assert.Equal(t, "connection refused", body.Checks["storage"])
	})
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Server{}.Run(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
