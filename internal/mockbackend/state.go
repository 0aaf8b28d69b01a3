package mockbackend

import (
	"slices"
	"sync"
	"time"

	"github.com/tphakala/storefront/internal/notification"
)

// maxProductID bounds the mock catalog; other ids are 404
const maxProductID = 1000

// state is the in-memory backend data, keyed by user subject.
type state struct {
	mu sync.Mutex

	views     map[string]map[int]bool // "<user>:<day>" -> product -> viewed
	viewCount map[int]int

	wishlists map[string]map[int]bool
	notifs    map[string][]*notification.Notification
	orders    map[int]string
	nextNotif int
}

func newState() *state {
	return &state{
		views:     make(map[string]map[int]bool),
		viewCount: make(map[int]int),
		wishlists: make(map[string]map[int]bool),
		notifs:    make(map[string][]*notification.Notification),
		orders:    make(map[int]string),
		nextNotif: 1,
	}
}

func productExists(id int) bool {
	return id > 0 && id <= maxProductID
}

// recordView reports whether this is the user's first view of id today.
func (st *state) recordView(user string, id int, now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := user + ":" + now.Format(time.DateOnly)
	day := st.views[key]
	if day == nil {
		day = make(map[int]bool)
		st.views[key] = day
	}
	if day[id] {
		return false
	}
	day[id] = true
	st.viewCount[id]++
	return true
}

func (st *state) inWishlist(user string, id int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.wishlists[user][id]
}

func (st *state) setWishlist(user string, id int, in bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	list := st.wishlists[user]
	if list == nil {
		list = make(map[int]bool)
		st.wishlists[user] = list
	}
	if in {
		list[id] = true
	} else {
		delete(list, id)
	}
}

func (st *state) toggleWishlist(user string, id int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	list := st.wishlists[user]
	if list == nil {
		list = make(map[int]bool)
		st.wishlists[user] = list
	}
	if list[id] {
		delete(list, id)
		return false
	}
	list[id] = true
	return true
}

// wishlistCount counts users holding id.
func (st *state) wishlistCount(id int) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, list := range st.wishlists {
		if list[id] {
			n++
		}
	}
	return n
}

// addOrderNotification stores a server notification for an order status
// change and returns it.
func (st *state) addOrderNotification(user string, ev *notification.OrderStatusEvent, now time.Time) *notification.Notification {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.orders[ev.OrderID] = ev.Status
	n := notification.FromOrderStatus(ev, st.nextNotif, now)
	st.nextNotif++
	st.notifs[user] = slices.Insert(st.notifs[user], 0, n)
	return n.Clone()
}

func (st *state) listNotifications(user string) ([]*notification.Notification, int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	list := st.notifs[user]
	out := make([]*notification.Notification, len(list))
	unread := 0
	for i, n := range list {
		out[i] = n.Clone()
		if !n.Read {
			unread++
		}
	}
	return out, unread
}

func (st *state) markRead(user string, id int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, n := range st.notifs[user] {
		if n.ID == id {
			n.Read = true
			return true
		}
	}
	return false
}

func (st *state) markAllRead(user string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, n := range st.notifs[user] {
		n.Read = true
	}
}

func (st *state) deleteNotification(user string, id int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	list := st.notifs[user]
	i := slices.IndexFunc(list, func(n *notification.Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	st.notifs[user] = slices.Delete(list, i, i+1)
	return true
}
