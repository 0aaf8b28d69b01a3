package httpclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	return newTestClientWithConfig(t, &cfg)
}

func newTestClientWithConfig(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newBackendClient starts handler and returns a client whose base URL points
// at it. configure may adjust the config before the client is built.
func newBackendClient(t *testing.T, handler http.HandlerFunc, configure ...func(*Config)) *Client {
	t.Helper()
	server := newTestServer(t, handler)
	cfg := Config{BaseURL: server.URL}
	for _, fn := range configure {
		fn(&cfg)
	}
	return newTestClientWithConfig(t, &cfg)
}

// writeJSON answers like the storefront backend: a JSON body with status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// closeResponseBody is deferred right after Do returns.
func closeResponseBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		t.Logf("failed to close response body: %v", err)
	}
}
