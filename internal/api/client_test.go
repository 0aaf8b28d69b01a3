package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storefront/internal/httpclient"
	"github.com/tphakala/storefront/internal/notification"
)

const baseURL = "http://shop.test/api"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{
		BaseURL:   baseURL,
		Transport: transport,
		Tokens:    httpclient.TokenFunc(func() string { return "tok" }),
	})
	t.Cleanup(hc.Close)
	return New(hc), transport
}

func TestLogin(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodPost, baseURL+"/auth/login",
		func(req *http.Request) (*http.Response, error) {
			var body loginRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			if body.Email != "demo@example.com" || body.Password != "demo" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"message":"invalid credentials"}`), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, LoginResponse{Token: "jwt"})
		})

	token, err := c.Auth.Login(t.Context(), "demo@example.com", "demo")
	require.NoError(t, err)
	assert.Equal(t, "jwt", token)

	_, err = c.Auth.Login(t.Context(), "demo@example.com", "nope")
	require.Error(t, err)
	status, ok := httpclient.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTrackView(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodPost, baseURL+"/products/42/view",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, ViewResult{Tracked: true, Message: "ok"})
		})

	res, err := c.Products.TrackView(t.Context(), 42)
	require.NoError(t, err)
	assert.True(t, res.Tracked)
	assert.Equal(t, "ok", res.Message)

	_, err = c.Products.TrackView(t.Context(), 0)
	require.Error(t, err)
	assert.Equal(t, 1, transport.GetTotalCallCount(), "invalid id never reaches the network")
}

func TestWishlistEndpoints(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodGet, baseURL+"/wishlist/check/7",
		httpmock.NewStringResponder(http.StatusOK, `{"inWishlist":false}`))
	transport.RegisterResponder(http.MethodPost, baseURL+"/wishlist/toggle/7",
		httpmock.NewStringResponder(http.StatusOK, `{"inWishlist":true}`))
	transport.RegisterResponder(http.MethodPost, baseURL+"/wishlist/7",
		httpmock.NewStringResponder(http.StatusCreated, `{}`))
	transport.RegisterResponder(http.MethodDelete, baseURL+"/wishlist/7",
		httpmock.NewStringResponder(http.StatusNoContent, ``))
	transport.RegisterResponder(http.MethodGet, baseURL+"/products/7/wishlist-count",
		httpmock.NewStringResponder(http.StatusOK, `{"count":12}`))

	in, err := c.Wishlist.Check(t.Context(), 7)
	require.NoError(t, err)
	assert.False(t, in)

	in, err = c.Wishlist.Toggle(t.Context(), 7)
	require.NoError(t, err)
	assert.True(t, in)

	require.NoError(t, c.Wishlist.Add(t.Context(), 7))
	require.NoError(t, c.Wishlist.Remove(t.Context(), 7))

	n, err := c.Wishlist.Count(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+baseURL+"/wishlist/toggle/7"])
}

func TestNotificationEndpoints(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodGet, baseURL+"/notifications",
		httpmock.NewStringResponder(http.StatusOK, `{
			"notifications": [
				{"id": 5, "type": "success", "title": "Order #99 Delivered", "message": "m", "isRead": false, "createdAt": "2026-10-18T10:00:00Z", "orderId": 99},
				{"id": 4, "type": "info", "title": "Welcome", "message": "hi", "isRead": true, "createdAt": "2026-10-17T10:00:00Z"}
			],
			"unreadCount": 1
		}`))
	transport.RegisterResponder(http.MethodPut, baseURL+"/notifications/5/read",
		httpmock.NewStringResponder(http.StatusOK, `{}`))
	transport.RegisterResponder(http.MethodPut, baseURL+"/notifications/read-all",
		httpmock.NewStringResponder(http.StatusOK, `{}`))
	transport.RegisterResponder(http.MethodDelete, baseURL+"/notifications/4",
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	list, err := c.Notifications.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, notification.TypeSuccess, list[0].Type)
	require.NotNil(t, list[0].OrderID)
	assert.Equal(t, 99, *list[0].OrderID)
	assert.True(t, list[1].Read)
	assert.Nil(t, list[1].OrderID)

	require.NoError(t, c.Notifications.MarkRead(t.Context(), 5))
	require.NoError(t, c.Notifications.MarkAllRead(t.Context()))
	require.NoError(t, c.Notifications.Delete(t.Context(), 4))
	assert.Error(t, c.Notifications.Delete(t.Context(), -3), "local ids are never sent")
}
