package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeForStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   Type
	}{
		{"CANCELLED", TypeError},
		{"DELIVERED", TypeSuccess},
		{"delivered", TypeSuccess},
		{"SHIPPED", TypeInfo},
		{"", TypeInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeForStatus(tt.status), tt.status)
	}
}

func TestFromOrderStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("delivered", func(t *testing.T) {
		t.Parallel()
		n := FromOrderStatus(&OrderStatusEvent{OrderID: 99, Status: "DELIVERED"}, -1, now)
		assert.Equal(t, -1, n.ID)
		assert.Equal(t, TypeSuccess, n.Type)
		assert.Equal(t, "Order #99 Delivered", n.Title)
		assert.Equal(t, "Your order #99 is now delivered.", n.Message)
		assert.Equal(t, "/orders/99", n.ActionURL)
		assert.Equal(t, now, n.CreatedAt)
		require.NotNil(t, n.OrderID)
		assert.Equal(t, 99, *n.OrderID)
		assert.False(t, n.Read)
	})

	t.Run("multi word status", func(t *testing.T) {
		t.Parallel()
		n := FromOrderStatus(&OrderStatusEvent{OrderID: 5, Status: "OUT_FOR_DELIVERY"}, 12, now)
		assert.Equal(t, TypeInfo, n.Type)
		assert.Equal(t, "Order #5 Out For Delivery", n.Title)
		assert.Equal(t, "Your order #5 is now out for delivery.", n.Message)
	})

	t.Run("server message and timestamp win", func(t *testing.T) {
		t.Parallel()
		at := now.Add(-time.Hour)
		n := FromOrderStatus(&OrderStatusEvent{OrderID: 7, Status: "CANCELLED", Message: "Refund issued", UpdatedAt: at}, 3, now)
		assert.Equal(t, TypeError, n.Type)
		assert.Equal(t, "Refund issued", n.Message)
		assert.Equal(t, at, n.CreatedAt)
	})
}

func TestNotificationClone(t *testing.T) {
	t.Parallel()

	order := 4
	n := &Notification{ID: 1, OrderID: &order}
	c := n.Clone()
	*c.OrderID = 5
	c.Read = true

	assert.Equal(t, 4, *n.OrderID)
	assert.False(t, n.Read)
	assert.Nil(t, (*Notification)(nil).Clone())
	assert.True(t, (&Notification{ID: -3}).IsLocal())
}
