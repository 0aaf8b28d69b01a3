package mockbackend

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/tphakala/storefront/internal/logger"
	"github.com/tphakala/storefront/internal/notification"
	"github.com/tphakala/storefront/internal/realtime"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type orderStatusRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      s.now().Format(time.RFC3339),
	})
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid login request")
	}
	if !s.credentialsMatch(req.Email, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	}
	token, err := s.issueToken(mockUserID)
	if err != nil {
		s.log.Error("failed to sign token", logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not issue token")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// credentialsMatch accepts any non-empty pair when no account is configured.
func (s *Server) credentialsMatch(email, password string) bool {
	if email == "" || password == "" {
		return false
	}
	if s.cfg.Email == "" {
		return true
	}
	if !strings.EqualFold(email, s.cfg.Email) {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
}

// productParam parses :id and checks it against the mock catalog.
func productParam(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if !productExists(id) {
		return 0, echo.NewHTTPError(http.StatusNotFound, "product not found")
	}
	return id, nil
}

func idParam(c echo.Context, kind string) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+kind+" id")
	}
	return id, nil
}

func (s *Server) trackView(c echo.Context) error {
	id, err := productParam(c)
	if err != nil {
		return err
	}
	if s.state.recordView(userID(c), id, s.now()) {
		return c.JSON(http.StatusOK, map[string]any{"tracked": true, "message": "View tracked"})
	}
	return c.JSON(http.StatusOK, map[string]any{"tracked": false, "message": "Already viewed today"})
}

func (s *Server) wishlistCount(c echo.Context) error {
	id, err := productParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"count": s.state.wishlistCount(id)})
}

func (s *Server) checkWishlist(c echo.Context) error {
	id, err := productParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"inWishlist": s.state.inWishlist(userID(c), id)})
}

func (s *Server) toggleWishlist(c echo.Context) error {
	id, err := productParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"inWishlist": s.state.toggleWishlist(userID(c), id)})
}

func (s *Server) addWishlist(c echo.Context) error {
	id, err := productParam(c)
	if err != nil {
		return err
	}
	s.state.setWishlist(userID(c), id, true)
	return c.JSON(http.StatusOK, map[string]bool{"inWishlist": true})
}

func (s *Server) removeWishlist(c echo.Context) error {
	id, err := productParam(c)
	if err != nil {
		return err
	}
	s.state.setWishlist(userID(c), id, false)
	return c.JSON(http.StatusOK, map[string]bool{"inWishlist": false})
}

func (s *Server) listNotifications(c echo.Context) error {
	list, unread := s.state.listNotifications(userID(c))
	return c.JSON(http.StatusOK, map[string]any{
		"notifications": list,
		"unreadCount":   unread,
	})
}

func (s *Server) markRead(c echo.Context) error {
	id, err := idParam(c, "notification")
	if err != nil {
		return err
	}
	if !s.state.markRead(userID(c), id) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

func (s *Server) markAllRead(c echo.Context) error {
	s.state.markAllRead(userID(c))
	return c.JSON(http.StatusOK, map[string]string{"message": "All notifications marked as read"})
}

func (s *Server) deleteNotification(c echo.Context) error {
	id, err := idParam(c, "notification")
	if err != nil {
		return err
	}
	if !s.state.deleteNotification(userID(c), id) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// updateOrderStatus stores a notification for the change and pushes an
// orderStatusUpdate event to the user's websocket clients.
func (s *Server) updateOrderStatus(c echo.Context) error {
	orderID, err := idParam(c, "order")
	if err != nil {
		return err
	}
	var req orderStatusRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	ev := &notification.OrderStatusEvent{
		OrderID:   orderID,
		Status:    strings.ToUpper(strings.TrimSpace(req.Status)),
		Message:   req.Message,
		UpdatedAt: s.now().UTC(),
	}
	n := s.EmitOrderStatus(userID(c), ev)
	return c.JSON(http.StatusOK, n)
}

// EmitOrderStatus records an order status change for user and publishes it.
// The stored notification is returned.
func (s *Server) EmitOrderStatus(user string, ev *notification.OrderStatusEvent) *notification.Notification {
	n := s.state.addOrderNotification(user, ev, s.now().UTC())
	event := *ev
	event.NotificationID = n.ID
	delivered := s.hub.publish(user, realtime.EventOrderStatusUpdate, event)
	s.log.Info("order status updated",
		logger.Int("order_id", ev.OrderID),
		logger.String("status", ev.Status),
		logger.Int("delivered", delivered))
	return n
}
