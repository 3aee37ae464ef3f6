package cli

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/harun/mosaic/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("stopped without PID file", func(t *testing.T) {
		path, _ := writeConfig(t)

		out, _, err := execute(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Equal(t, "Status: stopped\n", out)
	})

	t.Run("running and healthy", func(t *testing.T) {
		path, dataDir := writeConfig(t)
		require.NoError(t, os.MkdirAll(dataDir, 0755))
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0644))

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			_, _ = w.Write([]byte(`{"status":"ok","sessions":3,"uptime":"1m0s"}`))
		}))
		defer srv.Close()

		out, _, err := execute(t, "status", "--config", path, "--server", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Health: ok")
		assert.Contains(t, out, "Sessions: 3")
	})

	t.Run("running but unreachable", func(t *testing.T) {
		path, dataDir := writeConfig(t)
		require.NoError(t, os.MkdirAll(dataDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "mosaic.pid"), []byte(strconv.Itoa(os.Getpid())), 0644))

		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		out, _, err := execute(t, "status", "--config", path, "--server", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Health: unreachable")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
