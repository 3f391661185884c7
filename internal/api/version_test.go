package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandler(t *testing.T) {
	tests := []struct {
		name                               string
		version, gitCommit, built          string
		wantVersion, wantCommit, wantBuilt string
	}{
		{"all values set", "0.4.2", "9f1c2ab", "2026-10-01T12:00:00Z", "0.4.2", "9f1c2ab", "2026-10-01T12:00:00Z"},
		{"ldflags missing", "", "", "", "dev", "unknown", "unknown"},
		{"commit missing", "1.0.0", "", "2026-10-01T12:00:00Z", "1.0.0", "unknown", "2026-10-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			VersionHandler(tt.version, tt.gitCommit, tt.built).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp versionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, versionResponse{
				Version:   tt.wantVersion,
				GitCommit: tt.wantCommit,
				BuildDate: tt.wantBuilt,
				GoVersion: runtime.Version(),
			}, resp)
		})
	}
}

func TestVersionHandler_StableBody(t *testing.T) {
	h := VersionHandler("0.4.2", "9f1c2ab", "")

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/version", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, first.Body.String(), second.Body.String())
}
