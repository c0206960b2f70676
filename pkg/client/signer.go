package client

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	bearerPrefix        = "Bearer "
)

// Sign sets the bearer Authorization header. An empty token leaves the request untouched.
func Sign(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set(headerAuthorization, bearerPrefix+token)
}

// bearerToken extracts the bearer token a request was sent with
func bearerToken(req *http.Request) string {
	if req == nil {
		return ""
	}
	v := req.Header.Get(headerAuthorization)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// SigningTransport attaches the stored access token to requests for the backend
type SigningTransport struct {
	Base  http.RoundTripper
	Store tokenstore.Store
	// Origin limits signing to requests with the same scheme and host.
	// Nil signs every request.
	Origin *url.URL
}

// RoundTrip implements http.RoundTripper
func (t *SigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	signed := req.Clone(req.Context())
	if sameOrigin(t.Origin, req.URL) {
		Sign(signed, t.Store.Access())
	}
	if signed.Header.Get(headerRequestID) == "" {
		signed.Header.Set(headerRequestID, uuid.NewString())
	}

	resp, err := t.base().RoundTrip(signed)
	if err != nil {
		return nil, err
	}
	if resp.Request == nil {
		resp.Request = signed
	}
	return resp, nil
}

func (t *SigningTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// sameOrigin reports whether u has the scheme and host of origin. A nil origin
// matches any URL.
func sameOrigin(origin, u *url.URL) bool {
	if origin == nil {
		return true
	}
	if u == nil {
		return false
	}
	return strings.EqualFold(origin.Scheme, u.Scheme) && hostPort(origin) == hostPort(u)
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return strings.ToLower(u.Hostname()) + ":" + port
}
