// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every bound variable
const envPrefix = "STOREFRONT"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "STOREFRONT_DEBUG", validateEnvBool},

		{"api.baseurl", "STOREFRONT_API_BASEURL", validateEnvURL},
		{"api.timeout", "STOREFRONT_API_TIMEOUT", validateEnvDuration},

		{"viewtracking.enabled", "STOREFRONT_VIEWTRACKING_ENABLED", validateEnvBool},
		{"viewtracking.calltimeout", "STOREFRONT_VIEWTRACKING_CALLTIMEOUT", validateEnvDuration},

		{"wishlist.countdebounce", "STOREFRONT_WISHLIST_COUNTDEBOUNCE", validateEnvDuration},

		{"realtime.enabled", "STOREFRONT_REALTIME_ENABLED", validateEnvBool},
		{"realtime.transport", "STOREFRONT_REALTIME_TRANSPORT", validateEnvTransport},
		{"realtime.url", "STOREFRONT_REALTIME_URL", validateEnvURL},
		{"realtime.autoconnect", "STOREFRONT_REALTIME_AUTOCONNECT", validateEnvBool},
		{"realtime.mqtt.broker", "STOREFRONT_REALTIME_MQTT_BROKER", validateEnvURL},
		{"realtime.mqtt.username", "STOREFRONT_REALTIME_MQTT_USERNAME", nil},
		{"realtime.mqtt.password", "STOREFRONT_REALTIME_MQTT_PASSWORD", nil},

		{"notifications.max", "STOREFRONT_NOTIFICATIONS_MAX", validateEnvPositiveInt},

		{"store.driver", "STOREFRONT_STORE_DRIVER", validateEnvStoreDriver},
		{"store.path", "STOREFRONT_STORE_PATH", nil},
		{"store.dsn", "STOREFRONT_STORE_DSN", nil},

		{"sentry.enabled", "STOREFRONT_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "STOREFRONT_SENTRY_DSN", nil},

		{"mockbackend.jwtsecret", "STOREFRONT_MOCKBACKEND_JWTSECRET", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %s", value)
	}
	if n <= 0 {
		return fmt.Errorf("value must be positive, got %d", n)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host: %s", value)
	}
	return nil
}

func validateEnvTransport(value string) error {
	switch strings.TrimSpace(value) {
	case "websocket", "mqtt":
		return nil
	default:
		return fmt.Errorf("transport must be websocket or mqtt, got %s", value)
	}
}

func validateEnvStoreDriver(value string) error {
	switch strings.TrimSpace(value) {
	case "sqlite", "mysql":
		return nil
	default:
		return fmt.Errorf("store driver must be sqlite or mysql, got %s", value)
	}
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}
