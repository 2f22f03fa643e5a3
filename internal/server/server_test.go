package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatmux/internal/telemetry"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealth(t *testing.T) {
	code, body := get(t, Routes(nil), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
}

func TestMetrics(t *testing.T) {
	telemetry.Init()
	telemetry.IncVec(telemetry.MessagesTotal, "twitch")

	code, body := get(t, Routes(nil), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "chatmux_messages_total")
}

func TestWebsocketRoute(t *testing.T) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	code, _ := get(t, Routes(ws), "/ws")
	assert.Equal(t, http.StatusTeapot, code)

	code, _ = get(t, Routes(nil), "/ws")
	assert.Equal(t, http.StatusNotFound, code)
}
