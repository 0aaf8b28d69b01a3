// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/storefront/internal/logger"
)

// Defaults shared with components that construct themselves without settings
const (
	DefaultAPITimeout         = 10 * time.Second
	DefaultCallTimeout        = 15 * time.Second
	DefaultRolloverInterval   = time.Hour
	DefaultCountDebounce      = 500 * time.Millisecond
	DefaultNotificationMax    = 200
	DefaultViewEndpoint       = "products.view"
	DefaultReconnectDelay     = time.Second
	DefaultMaxReconnectDelay  = 30 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultMockTokenTTL       = 24 * time.Hour
	DefaultTokenKey           = "auth.token"
	DefaultStoreDriver        = "sqlite"
	DefaultRealtimeTransport  = "websocket"
	DefaultMockBackendAddress = "127.0.0.1:8080"
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("api.baseurl", "http://"+DefaultMockBackendAddress+"/api")
	v.SetDefault("api.timeout", DefaultAPITimeout)
	v.SetDefault("api.ratelimit", 20.0)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.useragent", "storefront/"+Version)

	v.SetDefault("auth.tokenkey", DefaultTokenKey)

	v.SetDefault("viewtracking.enabled", true)
	v.SetDefault("viewtracking.endpoint", DefaultViewEndpoint)
	v.SetDefault("viewtracking.calltimeout", DefaultCallTimeout)
	v.SetDefault("viewtracking.rolloverinterval", DefaultRolloverInterval)

	v.SetDefault("wishlist.calltimeout", DefaultCallTimeout)
	v.SetDefault("wishlist.countdebounce", DefaultCountDebounce)

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.transport", DefaultRealtimeTransport)
	v.SetDefault("realtime.url", "ws://"+DefaultMockBackendAddress+"/ws")
	v.SetDefault("realtime.autoconnect", false)
	v.SetDefault("realtime.reconnectdelay", DefaultReconnectDelay)
	v.SetDefault("realtime.maxreconnectdelay", DefaultMaxReconnectDelay)
	v.SetDefault("realtime.handshaketimeout", DefaultHandshakeTimeout)
	v.SetDefault("realtime.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("realtime.mqtt.topic", "storefront/users")
	v.SetDefault("realtime.mqtt.clientid", "storefront-client")

	v.SetDefault("notifications.max", DefaultNotificationMax)
	v.SetDefault("notifications.pushurls", []string{})

	v.SetDefault("store.driver", DefaultStoreDriver)
	v.SetDefault("store.path", "storefront.db")

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("sentry.enabled", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:9090")

	v.SetDefault("mockbackend.listen", DefaultMockBackendAddress)
	v.SetDefault("mockbackend.tokenttl", DefaultMockTokenTTL)
	v.SetDefault("mockbackend.email", "demo@example.com")
	v.SetDefault("mockbackend.password", "demo")
}
