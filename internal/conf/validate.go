// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateAPISettings,
		validateViewTrackingSettings,
		validateWishlistSettings,
		validateRealtimeSettings,
		validateNotificationSettings,
		validateStoreSettings,
		validateSentrySettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAPISettings(s *Settings) error {
	u, err := url.Parse(s.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.baseurl must be an absolute URL, got %q", s.API.BaseURL)
	}
	if s.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if s.API.RateLimit < 0 {
		return fmt.Errorf("api.ratelimit cannot be negative")
	}
	return nil
}

func validateViewTrackingSettings(s *Settings) error {
	if s.ViewTracking.Endpoint == "" {
		return fmt.Errorf("viewtracking.endpoint cannot be empty")
	}
	if s.ViewTracking.CallTimeout <= 0 {
		return fmt.Errorf("viewtracking.calltimeout must be positive")
	}
	if s.ViewTracking.RolloverInterval <= 0 {
		return fmt.Errorf("viewtracking.rolloverinterval must be positive")
	}
	return nil
}

func validateWishlistSettings(s *Settings) error {
	if s.Wishlist.CallTimeout <= 0 {
		return fmt.Errorf("wishlist.calltimeout must be positive")
	}
	if s.Wishlist.CountDebounce < 0 {
		return fmt.Errorf("wishlist.countdebounce cannot be negative")
	}
	return nil
}

func validateRealtimeSettings(s *Settings) error {
	if !s.Realtime.Enabled {
		return nil
	}

	switch s.Realtime.Transport {
	case "websocket":
		u, err := url.Parse(s.Realtime.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("realtime.url must be a ws:// or wss:// URL, got %q", s.Realtime.URL)
		}
	case "mqtt":
		if s.Realtime.MQTT.Broker == "" {
			return fmt.Errorf("realtime.mqtt.broker is required for the mqtt transport")
		}
		if strings.ContainsAny(s.Realtime.MQTT.Topic, "+#") {
			return fmt.Errorf("realtime.mqtt.topic cannot contain wildcards")
		}
	default:
		return fmt.Errorf("realtime.transport must be websocket or mqtt, got %q", s.Realtime.Transport)
	}

	if s.Realtime.ReconnectDelay <= 0 || s.Realtime.MaxReconnectDelay < s.Realtime.ReconnectDelay {
		return fmt.Errorf("realtime reconnect delays must be positive and maxreconnectdelay >= reconnectdelay")
	}
	return nil
}

func validateNotificationSettings(s *Settings) error {
	if s.Notifications.Max <= 0 {
		return fmt.Errorf("notifications.max must be positive")
	}
	for _, raw := range s.Notifications.PushURLs {
		if !strings.Contains(raw, "://") {
			return fmt.Errorf("notifications.pushurls entry %q is not a service URL", raw)
		}
	}
	return nil
}

func validateStoreSettings(s *Settings) error {
	switch s.Store.Driver {
	case "sqlite":
		if s.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "mysql":
		if s.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for mysql")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or mysql, got %q", s.Store.Driver)
	}
	return nil
}

func validateSentrySettings(s *Settings) error {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}
