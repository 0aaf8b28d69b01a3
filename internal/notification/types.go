// Package notification keeps the user's notification list: server
// notifications fetched in batches, realtime order-status events translated
// on arrival, merged by identifier and fanned out to local subscribers.
package notification

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/storefront/internal/errors"
)

// Type represents the category of a notification
type Type string

const (
	// TypeSuccess marks a completed action, e.g. a delivered order
	TypeSuccess Type = "success"
	// TypeWarning marks something that needs attention
	TypeWarning Type = "warning"
	// TypeError marks a failure, e.g. a cancelled order
	TypeError Type = "error"
	// TypeInfo is the default category
	TypeInfo Type = "info"
)

// Order statuses with a dedicated category
const (
	OrderStatusCancelled = "CANCELLED"
	OrderStatusDelivered = "DELIVERED"
)

// Sentinel errors for notification operations
var (
	ErrNotificationNotFound = errors.Newf("notification not found").Component("notification").Category(errors.CategoryNotFound).Build()
)

// Notification is one entry of the user's list. Server notifications have
// positive ids; entries built locally from realtime events without a server
// id get negative ids.
type Notification struct {
	ID        int       `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	// ActionURL optionally points at the related page
	ActionURL string `json:"actionUrl,omitempty"`
	// OrderID correlates the entry with an order
	OrderID *int `json:"orderId,omitempty"`
}

// IsLocal reports whether the entry was built on the client.
func (n *Notification) IsLocal() bool {
	return n.ID < 0
}

// Clone returns a copy that shares no memory with n.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	clone := *n
	if n.OrderID != nil {
		id := *n.OrderID
		clone.OrderID = &id
	}
	return &clone
}

// OrderStatusEvent is the payload of orderStatusUpdate, newOrder and
// orderCancelled events.
type OrderStatusEvent struct {
	OrderID        int       `json:"orderId"`
	Status         string    `json:"status"`
	NotificationID int       `json:"notificationId,omitempty"`
	Message        string    `json:"message,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// TypeForStatus maps an order status to a notification category.
func TypeForStatus(status string) Type {
	switch strings.ToUpper(status) {
	case OrderStatusCancelled:
		return TypeError
	case OrderStatusDelivered:
		return TypeSuccess
	default:
		return TypeInfo
	}
}

// humanizeStatus turns OUT_FOR_DELIVERY into "Out For Delivery".
func humanizeStatus(status string) string {
	words := strings.ReplaceAll(strings.TrimSpace(status), "_", " ")
	if words == "" {
		return "Updated"
	}
	return cases.Title(language.English).String(strings.ToLower(words))
}

// FromOrderStatus builds the notification shown for an order status event.
// id is used as the notification id.
func FromOrderStatus(ev *OrderStatusEvent, id int, now time.Time) *Notification {
	status := humanizeStatus(ev.Status)
	message := ev.Message
	if message == "" {
		message = fmt.Sprintf("Your order #%d is now %s.", ev.OrderID, strings.ToLower(status))
	}
	created := ev.UpdatedAt
	if created.IsZero() {
		created = now
	}
	orderID := ev.OrderID
	return &Notification{
		ID:        id,
		Type:      TypeForStatus(ev.Status),
		Title:     fmt.Sprintf("Order #%d %s", ev.OrderID, status),
		Message:   message,
		CreatedAt: created,
		ActionURL: fmt.Sprintf("/orders/%d", ev.OrderID),
		OrderID:   &orderID,
	}
}
