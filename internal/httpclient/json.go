package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tphakala/storefront/internal/errors"
)

// maxErrorBody bounds how much of a failed response is kept in APIError.Data
const maxErrorBody = 64 * 1024

// APIError is returned for non-2xx responses. Data holds the raw response body.
type APIError struct {
	Method string
	Path   string
	Status int
	Data   json.RawMessage
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// Message extracts a "message" or "error" field from a JSON body.
func (e *APIError) Message() string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &body) != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// ErrorCategory classifies the status for the errors package.
func (e *APIError) ErrorCategory() errors.ErrorCategory {
	return CategoryForStatus(e.Status)
}

// CategoryForStatus maps an HTTP status to an error category.
func CategoryForStatus(status int) errors.ErrorCategory {
	switch {
	case status == http.StatusBadRequest:
		return errors.CategoryValidation
	case status == http.StatusNotFound:
		return errors.CategoryNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.CategoryAuthentication
	case status == http.StatusConflict:
		return errors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return errors.CategoryLimit
	default:
		return errors.CategoryHTTP
	}
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

// IsEndpointUnavailable reports whether err is a 400 or 404 response, the
// statuses that mean retrying the same endpoint is futile.
func IsEndpointUnavailable(err error) bool {
	status, ok := StatusOf(err)
	return ok && (status == http.StatusBadRequest || status == http.StatusNotFound)
}

// GetJSON performs GET path and decodes the response into out (may be nil).
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs POST path with body encoded as JSON (nil sends no body).
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// PutJSON performs PUT path with body encoded as JSON (nil sends no body).
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, out)
}

// DeleteJSON performs DELETE path and decodes the response into out (may be nil).
func (c *Client) DeleteJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.New(fmt.Errorf("failed to marshal request body: %w", err)).
				Component("httpclient").
				Category(errors.CategoryValidation).
				Context("method", method).
				Context("path", path).
				Build()
		}
		bodyReader = bytes.NewReader(data)
	}

	url := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return errors.New(fmt.Errorf("failed to create %s request: %w", method, err)).
			Component("httpclient").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return errors.New(fmt.Errorf("%s %s: %w", method, path, err)).
			Component("httpclient").
			Category(category).
			NetworkContext(url, c.defaultTimeout).
			Timing(method+" "+path, time.Since(start)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		if json.Valid(data) {
			apiErr.Data = data
		}
		return errors.New(apiErr).
			Component("httpclient").
			Category(apiErr.ErrorCategory()).
			Context("status", resp.StatusCode).
			Context("path", path).
			Build()
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.New(fmt.Errorf("%s %s: decode response: %w", method, path, err)).
			Component("httpclient").
			Category(errors.CategoryHTTP).
			Context("status", resp.StatusCode).
			Build()
	}

	return nil
}
