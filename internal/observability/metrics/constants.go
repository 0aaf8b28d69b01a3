// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation names recorded through Recorder.
const (
	// OpViewTrack is one TrackView decision, status is the outcome.
	OpViewTrack = "view_track"
	// OpWishlistCheck is a remote membership query.
	OpWishlistCheck = "wishlist_check"
	// OpWishlistToggle is a remote toggle.
	OpWishlistToggle = "wishlist_toggle"
	// OpWishlistAdd is a remote add.
	OpWishlistAdd = "wishlist_add"
	// OpWishlistRemove is a remote remove.
	OpWishlistRemove = "wishlist_remove"
	// OpWishlistCount is a remote count re-fetch.
	OpWishlistCount = "wishlist_count"
	// OpNotificationRefresh is a full notification fetch.
	OpNotificationRefresh = "notification_refresh"
	// OpNotificationMutate covers read, read-all and delete calls.
	OpNotificationMutate = "notification_mutate"
	// OpPushDelivery is one external push send.
	OpPushDelivery = "push_delivery"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)

// Histogram buckets for remote calls, 5ms to 30s.
var remoteCallBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
