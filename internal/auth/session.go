// Package auth holds the bearer credential for the current user.
//
// The credential is treated as opaque except for one decode-and-compare
// check: when it parses as a JWT, its exp claim must lie in the future.
// Signatures are never verified on the client.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/store"
)

// DefaultTokenKey is the durable store key used when none is configured.
const DefaultTokenKey = "auth.token"

// ErrNotAuthenticated is returned by operations that need a credential.
var ErrNotAuthenticated = errors.NewStd("user not authenticated")

// LoginFunc exchanges credentials for a bearer token.
type LoginFunc func(ctx context.Context, email, password string) (string, error)

// Session owns the bearer credential. Safe for concurrent use.
type Session struct {
	store store.Store
	key   string
	now   func() time.Time
	log   logger.Logger

	mu       sync.RWMutex
	token    string
	onChange []func(authenticated bool)
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the clock used for the expiry check.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession restores a previously persisted token from st, if any.
func NewSession(st store.Store, key string, opts ...Option) (*Session, error) {
	if key == "" {
		key = DefaultTokenKey
	}
	s := &Session{
		store: st,
		key:   key,
		now:   time.Now,
		log:   logger.Global().Module("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var token string
	found, err := st.Get(key, &token)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryDatabase).
			Context("operation", "restore_token").
			Build()
	}
	if found {
		s.token = token
		s.log.Debug("restored credential", logger.Bool("valid", s.IsAuthenticated()))
	}
	return s, nil
}

// Token returns the raw bearer credential, empty when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a credential is present and, if it is a
// JWT carrying exp, not yet expired.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return false
	}
	claims, ok := parseClaims(token)
	if !ok || claims.ExpiresAt == nil {
		return true
	}
	return s.now().Before(claims.ExpiresAt.Time)
}

// Subject returns the sub claim of a JWT credential, or "".
func (s *Session) Subject() string {
	claims, ok := parseClaims(s.Token())
	if !ok {
		return ""
	}
	return claims.Subject
}

// ExpiresAt returns the credential expiry if it carries one.
func (s *Session) ExpiresAt() (time.Time, bool) {
	claims, ok := parseClaims(s.Token())
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// SetToken stores and persists a new credential.
func (s *Session) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.ValidationError("empty token")
	}
	if err := s.store.Set(s.key, token); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	listeners := append([]func(bool){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(true)
	}
	return nil
}

// Login exchanges credentials via fn and stores the resulting token.
func (s *Session) Login(ctx context.Context, fn LoginFunc, email, password string) error {
	token, err := fn(ctx, email, password)
	if err != nil {
		s.log.Warn("login failed", logger.String("email", email), logger.Error(err))
		return err
	}
	if err := s.SetToken(token); err != nil {
		return err
	}
	s.log.Info("logged in", logger.String("subject", s.Subject()))
	return nil
}

// Logout drops the credential from memory and the durable store and
// notifies change listeners.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token = ""
	listeners := append([]func(bool){}, s.onChange...)
	s.mu.Unlock()

	err := s.store.Remove(s.key)
	for _, fn := range listeners {
		fn(false)
	}
	if err != nil {
		return err
	}
	s.log.Info("logged out")
	return nil
}

// OnChange registers fn to run after every login and logout.
func (s *Session) OnChange(fn func(authenticated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func parseClaims(token string) (*jwt.RegisteredClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
