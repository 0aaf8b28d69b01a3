// Package api exposes the storefront backend endpoints used by the client
// core as typed calls over httpclient. Paths and JSON field names are the
// client-observed contract of the backend.
package api

import (
	"context"
	"fmt"

	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/httpclient"
	"github.com/tphakala/storefront/internal/notification"
)

// Client groups the endpoint services.
type Client struct {
	http *httpclient.Client

	Auth          *AuthService
	Products      *ProductService
	Wishlist      *WishlistService
	Notifications *NotificationService
}

// New builds a Client over hc.
func New(hc *httpclient.Client) *Client {
	c := &Client{http: hc}
	c.Auth = &AuthService{http: hc}
	c.Products = &ProductService{http: hc}
	c.Wishlist = &WishlistService{http: hc}
	c.Notifications = &NotificationService{http: hc}
	return c
}

// HTTP returns the underlying HTTP client.
func (c *Client) HTTP() *httpclient.Client {
	return c.http
}

func validateID(kind string, id int) error {
	if id <= 0 {
		return errors.Newf("invalid %s id %d", kind, id).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// AuthService covers /auth.
type AuthService struct {
	http *httpclient.Client
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	var resp LoginResponse
	if err := s.http.PostJSON(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.Newf("login response carried no token").
			Component("api").
			Category(errors.CategoryAuthentication).
			Build()
	}
	return resp.Token, nil
}

// ProductService covers /products.
type ProductService struct {
	http *httpclient.Client
}

// ViewResult is returned by POST /products/{id}/view.
type ViewResult struct {
	Tracked bool   `json:"tracked"`
	Message string `json:"message"`
}

// TrackView records a product view.
func (s *ProductService) TrackView(ctx context.Context, productID int) (*ViewResult, error) {
	if err := validateID("product", productID); err != nil {
		return nil, err
	}
	var resp ViewResult
	if err := s.http.PostJSON(ctx, fmt.Sprintf("/products/%d/view", productID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WishlistService covers /wishlist and the per-product wishlist count.
type WishlistService struct {
	http *httpclient.Client
}

type membershipResponse struct {
	InWishlist bool `json:"inWishlist"`
}

type countResponse struct {
	Count int `json:"count"`
}

// Check reports whether productID is in the user's wishlist.
func (s *WishlistService) Check(ctx context.Context, productID int) (bool, error) {
	if err := validateID("product", productID); err != nil {
		return false, err
	}
	var resp membershipResponse
	if err := s.http.GetJSON(ctx, fmt.Sprintf("/wishlist/check/%d", productID), &resp); err != nil {
		return false, err
	}
	return resp.InWishlist, nil
}

// Toggle adds productID if absent or removes it if present and returns the
// new server-side membership.
func (s *WishlistService) Toggle(ctx context.Context, productID int) (bool, error) {
	if err := validateID("product", productID); err != nil {
		return false, err
	}
	var resp membershipResponse
	if err := s.http.PostJSON(ctx, fmt.Sprintf("/wishlist/toggle/%d", productID), nil, &resp); err != nil {
		return false, err
	}
	return resp.InWishlist, nil
}

// Add puts productID into the wishlist.
func (s *WishlistService) Add(ctx context.Context, productID int) error {
	if err := validateID("product", productID); err != nil {
		return err
	}
	return s.http.PostJSON(ctx, fmt.Sprintf("/wishlist/%d", productID), nil, nil)
}

// Remove takes productID out of the wishlist.
func (s *WishlistService) Remove(ctx context.Context, productID int) error {
	if err := validateID("product", productID); err != nil {
		return err
	}
	return s.http.DeleteJSON(ctx, fmt.Sprintf("/wishlist/%d", productID), nil)
}

// Count returns how many users have productID in their wishlist.
func (s *WishlistService) Count(ctx context.Context, productID int) (int, error) {
	if err := validateID("product", productID); err != nil {
		return 0, err
	}
	var resp countResponse
	if err := s.http.GetJSON(ctx, fmt.Sprintf("/products/%d/wishlist-count", productID), &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// NotificationService covers /notifications.
type NotificationService struct {
	http *httpclient.Client
}

// NotificationList is returned by GET /notifications.
type NotificationList struct {
	Notifications []*notification.Notification `json:"notifications"`
	UnreadCount   int                          `json:"unreadCount"`
}

// List fetches the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context) ([]*notification.Notification, error) {
	var resp NotificationList
	if err := s.http.GetJSON(ctx, "/notifications", &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// MarkRead marks one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id int) error {
	if err := validateID("notification", id); err != nil {
		return err
	}
	return s.http.PutJSON(ctx, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

// MarkAllRead marks every notification as read.
func (s *NotificationService) MarkAllRead(ctx context.Context) error {
	return s.http.PutJSON(ctx, "/notifications/read-all", nil, nil)
}

// Delete removes a notification.
func (s *NotificationService) Delete(ctx context.Context, id int) error {
	if err := validateID("notification", id); err != nil {
		return err
	}
	return s.http.DeleteJSON(ctx, fmt.Sprintf("/notifications/%d", id), nil)
}
