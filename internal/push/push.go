// Package push forwards new notifications to external services (chat,
// email, webhooks) through shoutrrr.
package push

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/k3a/html2text"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/notification"
	"github.com/tphakala/storefront/internal/observability/metrics"
)

// DefaultTimeout bounds one delivery
const DefaultTimeout = 10 * time.Second

// Sender delivers a message to every configured service.
// *router.ServiceRouter satisfies it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Source is a notification fan-out. *notification.Center satisfies it.
type Source interface {
	Subscribe() (<-chan *notification.Notification, context.Context)
	Unsubscribe(ch <-chan *notification.Notification)
}

// Forwarder pushes notifications of selected types to a Sender.
type Forwarder struct {
	sender  Sender
	types   map[notification.Type]bool
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithTypes restricts forwarding to the given types. All types are
// forwarded by default.
func WithTypes(types ...notification.Type) Option {
	return func(f *Forwarder) {
		f.types = make(map[notification.Type]bool, len(types))
		for _, t := range types {
			f.types[t] = true
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *Forwarder) { f.metrics = metrics.OrNop(r) }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Forwarder) { f.log = l }
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) { f.timeout = d }
}

// New creates a Forwarder around sender.
func New(sender Sender, opts ...Option) *Forwarder {
	f := &Forwarder{
		sender:  sender,
		timeout: DefaultTimeout,
		log:     logger.Global().Module("push"),
		metrics: metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewShoutrrr builds a Forwarder for shoutrrr service URLs.
func NewShoutrrr(urls []string, opts ...Option) (*Forwarder, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one push URL is required").
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, errors.New(sanitize(err)).
			Component("push").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	f := New(sender, opts...)
	if f.timeout > 0 {
		sender.Timeout = f.timeout
	}
	return f, nil
}

// Accepts reports whether n is forwarded.
func (f *Forwarder) Accepts(n *notification.Notification) bool {
	return n != nil && (len(f.types) == 0 || f.types[n.Type])
}

// Send delivers one notification. It returns the first delivery error.
func (f *Forwarder) Send(ctx context.Context, n *notification.Notification) error {
	if !f.Accepts(n) {
		f.metrics.RecordOperation(metrics.OpPushDelivery, metrics.StatusSkipped)
		return nil
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(plainText(n.Title))
	}
	message := plainText(n.Message)

	start := time.Now()
	errs, err := deliver(ctx, f.timeout, func() []error { return f.sender.Send(message, &params) })
	f.metrics.RecordDuration(metrics.OpPushDelivery, time.Since(start).Seconds())
	if err != nil {
		f.metrics.RecordOperation(metrics.OpPushDelivery, metrics.StatusTimeout)
		return err
	}

	for _, e := range errs {
		if e == nil {
			continue
		}
		f.metrics.RecordOperation(metrics.OpPushDelivery, metrics.StatusError)
		f.metrics.RecordError(metrics.OpPushDelivery, string(errors.CategoryIntegration))
		return errors.New(sanitize(e)).
			Component("push").
			Category(errors.CategoryIntegration).
			Context("notification_id", n.ID).
			Build()
	}
	f.metrics.RecordOperation(metrics.OpPushDelivery, metrics.StatusSuccess)
	return nil
}

// plainText strips HTML markup from server-provided text.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	return strings.TrimSpace(html2text.HTML2Text(s))
}

// deliver runs send, giving up when ctx is done or d elapses. The router
// applies its own timeout so an abandoned send still finishes.
func deliver(ctx context.Context, d time.Duration, send func() []error) ([]error, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	done := make(chan []error, 1)
	go func() { done <- send() }()

	select {
	case errs := <-done:
		return errs, nil
	case <-ctx.Done():
		return nil, errors.New(fmt.Errorf("push delivery: %w", ctx.Err())).
			Component("push").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Run forwards every notification from src until ctx is done.
func (f *Forwarder) Run(ctx context.Context, src Source) {
	ch, subCtx := src.Subscribe()
	defer src.Unsubscribe(ch)

	f.log.Info("push forwarding started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-subCtx.Done():
			return
		case n := <-ch:
			if err := f.Send(ctx, n); err != nil {
				f.log.Warn("push delivery failed",
					logger.Int("notification_id", n.ID),
					logger.Error(err))
			}
		}
	}
}

// credentialsInURL matches the userinfo and token-like path of service URLs
var credentialsInURL = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^\s/@]+@`)

// sanitize strips credentials embedded in service URLs from err.
func sanitize(err error) error {
	if err == nil {
		return nil
	}
	msg := credentialsInURL.ReplaceAllString(err.Error(), "${1}[redacted]@")
	if msg == err.Error() {
		return err
	}
	return errors.NewStd(msg)
}
