// config.go: storefront client settings loaded through viper
package conf

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

// Version is set at build time
var Version = "dev"

// APISettings configures the REST collaborator
type APISettings struct {
	BaseURL   string        `mapstructure:"baseurl" yaml:"baseurl"`     // backend root, e.g. http://localhost:8080/api
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`     // per-request timeout
	RateLimit float64       `mapstructure:"ratelimit" yaml:"ratelimit"` // requests per second, 0 disables
	Burst     int           `mapstructure:"burst" yaml:"burst"`
	UserAgent string        `mapstructure:"useragent" yaml:"useragent"`
}

// AuthSettings controls where the bearer credential is kept
type AuthSettings struct {
	TokenKey string `mapstructure:"tokenkey" yaml:"tokenkey"` // durable store key holding the token
}

// ViewTrackingSettings configures the view deduplicator
type ViewTrackingSettings struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`                 // logical endpoint name used for failure marking
	CallTimeout      time.Duration `mapstructure:"calltimeout" yaml:"calltimeout"`           // bound on a single remote call
	RolloverInterval time.Duration `mapstructure:"rolloverinterval" yaml:"rolloverinterval"` // how often the day marker is checked
}

// WishlistSettings configures the wishlist synchronizer
type WishlistSettings struct {
	CallTimeout   time.Duration `mapstructure:"calltimeout" yaml:"calltimeout"`
	CountDebounce time.Duration `mapstructure:"countdebounce" yaml:"countdebounce"` // delay before re-fetching a count
}

// MQTTSettings configures the alternative realtime transport
type MQTTSettings struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"` // prefix; events arrive on <topic>/<user>/<event>
	ClientID string `mapstructure:"clientid" yaml:"clientid"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RealtimeSettings configures the status bridge
type RealtimeSettings struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Transport         string        `mapstructure:"transport" yaml:"transport"` // websocket or mqtt
	URL               string        `mapstructure:"url" yaml:"url"`
	AutoConnect       bool          `mapstructure:"autoconnect" yaml:"autoconnect"`
	ReconnectDelay    time.Duration `mapstructure:"reconnectdelay" yaml:"reconnectdelay"`
	MaxReconnectDelay time.Duration `mapstructure:"maxreconnectdelay" yaml:"maxreconnectdelay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshaketimeout" yaml:"handshaketimeout"`
	MQTT              MQTTSettings  `mapstructure:"mqtt" yaml:"mqtt"`
}

// NotificationSettings configures the notification list
type NotificationSettings struct {
	Max      int      `mapstructure:"max" yaml:"max"`           // list bound, oldest entries are dropped
	PushURLs []string `mapstructure:"pushurls" yaml:"pushurls"` // shoutrrr service URLs
}

// StoreSettings configures the durable store
type StoreSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite or mysql
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite file
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // mysql DSN
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// TelemetrySettings configures the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// MockBackendSettings configures the in-memory development backend
type MockBackendSettings struct {
	Listen    string        `mapstructure:"listen" yaml:"listen"`
	JWTSecret string        `mapstructure:"jwtsecret" yaml:"jwtsecret"`
	TokenTTL  time.Duration `mapstructure:"tokenttl" yaml:"tokenttl"`
	Email     string        `mapstructure:"email" yaml:"email"`
	Password  string        `mapstructure:"password" yaml:"password"`
}

// Settings contains all configuration options for the storefront client
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	API           APISettings          `mapstructure:"api" yaml:"api"`
	Auth          AuthSettings         `mapstructure:"auth" yaml:"auth"`
	ViewTracking  ViewTrackingSettings `mapstructure:"viewtracking" yaml:"viewtracking"`
	Wishlist      WishlistSettings     `mapstructure:"wishlist" yaml:"wishlist"`
	Realtime      RealtimeSettings     `mapstructure:"realtime" yaml:"realtime"`
	Notifications NotificationSettings `mapstructure:"notifications" yaml:"notifications"`
	Store         StoreSettings        `mapstructure:"store" yaml:"store"`
	Logging       logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Sentry        SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	Telemetry     TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	MockBackend   MockBackendSettings  `mapstructure:"mockbackend" yaml:"mockbackend"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from configFile, or from the default search
// paths when configFile is empty, applies STOREFRONT_* environment overrides
// and flag overrides, then validates the result.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v, err := initViper(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	if settings.MockBackend.JWTSecret == "" {
		settings.MockBackend.JWTSecret = GenerateRandomSecret()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper builds a viper instance with defaults, the config file,
// environment bindings and flags.
func initViper(configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Defaults are a complete configuration
			return v, nil
		}
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read_config").
			Build()
	}

	return v, nil
}

// bindFlags maps persistent CLI flags onto config keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"debug":        "debug",
		"api.baseurl":  "api",
		"realtime.url": "realtime-url",
	}
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// GenerateRandomSecret returns a URL-safe base64 string carrying 256 bits of entropy.
func GenerateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		GetLogger().Error("failed to generate random secret", logger.Error(err))
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GetLogger returns the configuration module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("conf")
}
