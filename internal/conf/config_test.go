package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "debug: false\n")

	settings, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAPITimeout, settings.API.Timeout)
	assert.Equal(t, DefaultViewEndpoint, settings.ViewTracking.Endpoint)
	assert.Equal(t, DefaultRolloverInterval, settings.ViewTracking.RolloverInterval)
	assert.Equal(t, DefaultCountDebounce, settings.Wishlist.CountDebounce)
	assert.Equal(t, DefaultNotificationMax, settings.Notifications.Max)
	assert.Equal(t, "websocket", settings.Realtime.Transport)
	assert.Equal(t, "sqlite", settings.Store.Driver)
	assert.NotEmpty(t, settings.MockBackend.JWTSecret, "secret is generated when unset")
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Same(t, settings, GetSettings())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
api:
  baseurl: https://shop.example.com/api
  timeout: 3s
wishlist:
  countdebounce: 250ms
realtime:
  transport: mqtt
  mqtt:
    broker: tcp://broker.example.com:1883
    topic: shop/users
notifications:
  max: 50
  pushurls:
    - generic://hooks.example.com/notify
`)

	settings, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/api", settings.API.BaseURL)
	assert.Equal(t, 3*time.Second, settings.API.Timeout)
	assert.Equal(t, 250*time.Millisecond, settings.Wishlist.CountDebounce)
	assert.Equal(t, "mqtt", settings.Realtime.Transport)
	assert.Equal(t, "shop/users", settings.Realtime.MQTT.Topic)
	assert.Equal(t, 50, settings.Notifications.Max)
	assert.Equal(t, []string{"generic://hooks.example.com/notify"}, settings.Notifications.PushURLs)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("STOREFRONT_API_BASEURL", "http://env.example.com/api")
	t.Setenv("STOREFRONT_NOTIFICATIONS_MAX", "7")

	settings, err := Load(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, "http://env.example.com/api", settings.API.BaseURL)
	assert.Equal(t, 7, settings.Notifications.Max)
}

func TestLoadFlagOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("debug", false, "")
	flags.String("api", "", "")
	require.NoError(t, flags.Parse([]string{"--debug", "--api", "http://flag.example.com/api"}))

	settings, err := Load(writeConfig(t, "{}\n"), flags)
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
	assert.Equal(t, "http://flag.example.com/api", settings.API.BaseURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  driver: postgres\nnotifications:\n  max: 0\n"), nil)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	settings, err := Load(writeConfig(t, "notifications:\n  max: 42\n"), nil)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	reloaded, err := Load(out, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, reloaded.Notifications.Max)
	assert.Equal(t, settings.MockBackend.JWTSecret, reloaded.MockBackend.JWTSecret)
	assert.Equal(t, settings.Wishlist.CountDebounce, reloaded.Wishlist.CountDebounce)
}
