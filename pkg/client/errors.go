package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrInvalidCredentials is returned by Login when the backend rejects the username or password
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrSessionExpired is returned when the refresh token can no longer renew the session
	ErrSessionExpired = errors.New("session expired")
	// ErrNoRefreshToken is returned when a refresh is needed but none is stored
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

const maxErrorBody = 64 << 10

// HTTPError is a non-2xx reply from the backend
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned status %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// IsUnauthorized reports whether the backend answered 401
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// newHTTPError reads the reply body and builds an HTTPError from it.
// Django REST framework errors carry the message in "detail".
func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}

	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.StatusCode, body),
		Body:       body,
		URL:        url,
	}
}

func errorMessage(status int, body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.Detail, payload.Message, payload.Error} {
			if m != "" {
				return m
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" || strings.HasPrefix(text, "{") || strings.HasPrefix(text, "<") {
		return http.StatusText(status)
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
