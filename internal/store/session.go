package store

import (
	"encoding/json"
	"strings"

	"github.com/patrickmn/go-cache"
)

// SessionStore is the login-session scope. Entries never expire on their
// own. Without a backing store they live for the process lifetime; with one
// they are written through under a namespace so later processes of the same
// session see them, and they end when the owner clears the scope.
type SessionStore struct {
	c         *cache.Cache
	backing   Store
	namespace string
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithBacking writes every entry through to st under namespace.
func WithBacking(st Store, namespace string) SessionOption {
	return func(s *SessionStore) {
		s.backing = st
		s.namespace = namespace
	}
}

// NewSessionStore returns an empty session store.
func NewSessionStore(opts ...SessionOption) *SessionStore {
	s := &SessionStore{c: cache.New(cache.NoExpiration, 0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) Get(key string, out any) (bool, error) {
	if v, ok := s.c.Get(key); ok {
		data, _ := v.([]byte)
		return true, decode(key, data, out)
	}
	if s.backing == nil {
		return false, nil
	}

	var raw json.RawMessage
	found, err := s.backing.Get(s.namespace+key, &raw)
	if err != nil || !found {
		return false, err
	}
	s.c.Set(key, []byte(raw), cache.NoExpiration)
	return true, decode(key, raw, out)
}

func (s *SessionStore) Set(key string, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if s.backing != nil {
		if err := s.backing.Set(s.namespace+key, json.RawMessage(data)); err != nil {
			return err
		}
	}
	s.c.Set(key, data, cache.NoExpiration)
	return nil
}

func (s *SessionStore) Remove(key string) error {
	s.c.Delete(key)
	if s.backing != nil {
		return s.backing.Remove(s.namespace + key)
	}
	return nil
}

func (s *SessionStore) RemovePrefix(prefix string) (int, error) {
	cached := s.cachedKeys(prefix)
	for _, k := range cached {
		s.c.Delete(k)
	}
	if s.backing != nil {
		return s.backing.RemovePrefix(s.namespace + prefix)
	}
	return len(cached), nil
}

func (s *SessionStore) Keys(prefix string) ([]string, error) {
	if s.backing == nil {
		return s.cachedKeys(prefix), nil
	}
	keys, err := s.backing.Keys(s.namespace + prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.namespace)
	}
	return keys, nil
}

func (s *SessionStore) cachedKeys(prefix string) []string {
	items := s.c.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of entries held in memory.
func (s *SessionStore) Len() int {
	return s.c.ItemCount()
}

// Flush removes every entry of the scope, including written-through ones.
func (s *SessionStore) Flush() error {
	s.c.Flush()
	if s.backing != nil {
		_, err := s.backing.RemovePrefix(s.namespace)
		return err
	}
	return nil
}
