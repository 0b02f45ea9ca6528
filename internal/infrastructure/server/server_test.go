package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	return cfg
}

func TestNewServerRoutes(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	srv, err := NewServer(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Sessions().CloseAll() })

	for _, path := range []string{"/health", "/profiles", "/sessions", "/metrics"} {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), path)
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run",
		strings.NewReader(`{"command":"echo served"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"served"`)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "cmdproxy_http_requests_total")
}

func TestNewServerProfilesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - name: quiet\n    extends: sh\n"), 0o600))

	cfg := testConfig()
	cfg.Shell.ProfilesFile = path
	cfg.Shell.Profile = "quiet"

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	assert.Contains(t, srv.Sessions().Profiles(), "quiet")
}

func TestNewServerUnknownDefaultProfile(t *testing.T) {
	cfg := testConfig()
	cfg.Shell.Profile = "missing"

	_, err := NewServer(cfg)
	assert.Error(t, err)
}
