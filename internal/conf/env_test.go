package conf

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		validate func(string) error
		value    string
		wantErr  bool
	}{
		{"bool true", validateEnvBool, " true ", false},
		{"bool yes", validateEnvBool, "yes", true},
		{"duration", validateEnvDuration, "500ms", false},
		{"duration negative", validateEnvDuration, "-1s", true},
		{"duration garbage", validateEnvDuration, "soon", true},
		{"positive int", validateEnvPositiveInt, "200", false},
		{"zero int", validateEnvPositiveInt, "0", true},
		{"url", validateEnvURL, "wss://shop.example.com/ws", false},
		{"url without host", validateEnvURL, "/ws", true},
		{"transport mqtt", validateEnvTransport, "mqtt", false},
		{"transport sse", validateEnvTransport, "sse", true},
		{"driver mysql", validateEnvStoreDriver, "mysql", false},
		{"driver postgres", validateEnvStoreDriver, "postgres", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBindEnvVarsReportsInvalidValues(t *testing.T) {
	t.Setenv("STOREFRONT_REALTIME_TRANSPORT", "carrier-pigeon")

	err := configureEnvironmentVariables(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STOREFRONT_REALTIME_TRANSPORT")
}

func TestEnvBindingsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, b := range getEnvBindings() {
		assert.False(t, seen[b.EnvVar], "duplicate binding %s", b.EnvVar)
		seen[b.EnvVar] = true
		assert.Contains(t, b.EnvVar, envPrefix+"_")
	}
}
