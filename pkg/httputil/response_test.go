package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	t.Run("writes JSON with correct content type", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteJSON(rec, http.StatusOK, map[string]string{"foo": "bar"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var result map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "bar", result["foo"])
	})

	t.Run("handles nil data", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteJSON(rec, http.StatusNoContent, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{
			name:   "bad request",
			write:  func(w http.ResponseWriter) { WriteBadRequest(w, "duration must be a positive integer") },
			status: http.StatusBadRequest,
			code:   CodeInvalidRequest,
		},
		{
			name:   "service unavailable",
			write:  func(w http.ResponseWriter) { WriteServiceUnavailable(w, CodeCapacityExceeded, "too many sessions") },
			status: http.StatusServiceUnavailable,
			code:   CodeCapacityExceeded,
		},
		{
			name:   "explicit status",
			write:  func(w http.ResponseWriter) { WriteError(w, http.StatusInternalServerError, CodeLaunchFailed, "no such file") },
			status: http.StatusInternalServerError,
			code:   CodeLaunchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()

			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, rec.Body.String(), "details")
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()

	WriteErrorWithDetails(rec, http.StatusBadGateway, CodeFilterFailed, "filter exited with status 2",
		map[string]string{"stderr": "invalid display filter"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeFilterFailed, body["error"])
	assert.Equal(t, map[string]any{"stderr": "invalid display filter"}, body["details"])
}

func TestClientAddr(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "192.0.2.7", ClientAddr(r))

	r.RemoteAddr = "@"
	assert.Equal(t, "@", ClientAddr(r))
}
