// Package store provides the key-value persistence used by the client core.
//
// Two scopes exist. SessionStore holds the view tracking and wishlist
// segments for one login session; an in-memory cache fronts an optional
// namespace of the durable store. DurableStore survives restarts and holds
// the bearer credential and the notification backup. Values are JSON encoded
// in both.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

// Store is a JSON key-value store. Implementations are safe for concurrent use.
type Store interface {
	// Get decodes the value stored under key into out. It reports false
	// when the key is absent.
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
	Remove(key string) error
	// RemovePrefix deletes every key starting with prefix and returns the
	// number of removed entries.
	RemovePrefix(prefix string) (int, error)
	// Keys lists keys starting with prefix in no particular order.
	Keys(prefix string) ([]string, error)
}

func getLogger() logger.Logger {
	return logger.Global().Module("store")
}

func encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.New(fmt.Errorf("encode value for %q: %w", key, err)).
			Component("store").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build()
	}
	return data, nil
}

func decode(key string, data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(fmt.Errorf("decode value for %q: %w", key, err)).
			Component("store").
			Category(errors.CategoryDatabase).
			Context("key", key).
			Build()
	}
	return nil
}
