package cmd

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/mockbackend"
	"github.com/tphakala/storefront/internal/notification"
)

// writeConfig points the client at baseURL with a private durable store.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`api:
  baseurl: %s/api
realtime:
  url: ws%s/ws
store:
  driver: sqlite
  path: %s
logging:
  console:
    enabled: false
`, baseURL, strings.TrimPrefix(baseURL, "http"), filepath.Join(dir, "storefront.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	root := RootCommand(&conf.Settings{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCommandsAgainstMockBackend(t *testing.T) {
	backend, err := mockbackend.New(&conf.MockBackendSettings{
		JWTSecret: "cmd-test",
		TokenTTL:  time.Hour,
		Email:     "demo@example.com",
		Password:  "demo",
	}, mockbackend.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	ts := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		_ = backend.Shutdown()
		ts.Close()
	})
	cfg := writeConfig(t, ts.URL)

	_, err = execute(t, cfg, "notifications", "list")
	require.ErrorContains(t, err, "not logged in")

	out, err := execute(t, cfg, "login", "-e", "demo@example.com", "-p", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as 1")

	out, err = execute(t, cfg, "track", "5", "--repeat", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "tracked=true")
	assert.Contains(t, out, "View already tracked today (cached)")

	out, err = execute(t, cfg, "track", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "tracked=false View already tracked today (cached)", "the session cache outlives the process")

	out, err = execute(t, cfg, "wishlist", "toggle", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "product 3 in wishlist: true")

	out, err = execute(t, cfg, "wishlist", "count", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "wishlist count: 1")

	stored := backend.EmitOrderStatus("1", &notification.OrderStatusEvent{OrderID: 12, Status: "DELIVERED"})
	out, err = execute(t, cfg, "notifications", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1 notifications, 1 unread")

	out, err = execute(t, cfg, "notifications", "read", fmt.Sprint(stored.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "0 unread")

	out, err = execute(t, cfg, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = execute(t, cfg, "wishlist", "toggle", "3")
	require.ErrorContains(t, err, "login required")
}

func TestCommandsRejectBadIDs(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1")

	_, err := execute(t, cfg, "track", "abc")
	require.ErrorContains(t, err, "invalid product id")

	_, err = execute(t, cfg, "notifications", "read", "0")
	require.ErrorContains(t, err, "invalid notification id")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := RootCommand(&conf.Settings{})
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"login", "logout", "track", "wishlist", "notifications", "watch", "mockserver"} {
		assert.Contains(t, names, want)
	}
}
