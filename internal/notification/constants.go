package notification

const (
	// DefaultMaxNotifications bounds the local list; the oldest entries are
	// dropped first.
	DefaultMaxNotifications = 200

	// DefaultChannelBufferSize is the per-subscriber channel buffer. A full
	// subscriber misses the notification rather than blocking the merge.
	DefaultChannelBufferSize = 32

	// backupKey is the durable store key holding the list backup
	backupKey = "notifications.backup"

	// Sources reported to the received-notifications counter
	sourceFetch = "fetch"
	sourcePush  = "push"
)

// Order statuses assumed for events that omit one
const (
	orderStatusPlaced = "PLACED"
)
