package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeBackend mimics the portal auth endpoints closely enough for the client
type fakeBackend struct {
	t *testing.T

	mu           sync.Mutex
	access       string
	refresh      string
	generation   int
	rotate       bool
	refreshFail  bool
	refreshDelay time.Duration
	lastBodies   []string
	authHeaders  []string
	redirectTo   string

	refreshCalls atomic.Int32
	resourceHits atomic.Int32
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{t: t, access: "access-0", refresh: "refresh-0"}
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) headers() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.authHeaders...)
}

func (fb *fakeBackend) bodies() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.lastBodies...)
}

func (fb *fakeBackend) setRefreshFail(fail bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.refreshFail = fail
}

func (fb *fakeBackend) setRedirect(to string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.redirectTo = to
}

// expire makes the current access token invalid without issuing a new one
func (fb *fakeBackend) expire() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.access = "revoked"
}

func (fb *fakeBackend) authorized(r *http.Request) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.authHeaders = append(fb.authHeaders, r.Header.Get("Authorization"))
	return r.Header.Get("Authorization") == "Bearer "+fb.access
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fb *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/token/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			fb.t.Errorf("login request must not be signed, got %q", r.Header.Get("Authorization"))
		}
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Username != "alice" || body.Password != "correct" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		fb.mu.Lock()
		defer fb.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access":  fb.access,
			"refresh": fb.refresh,
			"user":    map[string]interface{}{"id": 1, "username": "alice", "user_type": "student"},
		})
	})

	mux.HandleFunc("/api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		fb.refreshCalls.Add(1)
		if r.Header.Get("Authorization") != "" {
			fb.t.Errorf("refresh request must not be signed")
		}
		if fb.refreshDelay > 0 {
			time.Sleep(fb.refreshDelay)
		}
		var body struct {
			Refresh string `json:"refresh"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		fb.mu.Lock()
		defer fb.mu.Unlock()
		if fb.refreshFail || body.Refresh != fb.refresh {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
			return
		}
		fb.generation++
		fb.access = fmt.Sprintf("access-%d", fb.generation)
		reply := map[string]string{"access": fb.access}
		if fb.rotate {
			fb.refresh = fmt.Sprintf("refresh-%d", fb.generation)
			reply["refresh"] = fb.refresh
		}
		writeJSON(w, http.StatusOK, reply)
	})

	mux.HandleFunc("/api/users/me/", func(w http.ResponseWriter, r *http.Request) {
		if !fb.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 1, "username": "alice", "first_name": "Alice", "user_type": "student"})
	})

	mux.HandleFunc("/api/reports/", func(w http.ResponseWriter, r *http.Request) {
		fb.resourceHits.Add(1)
		data, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.lastBodies = append(fb.lastBodies, string(data))
		fb.mu.Unlock()
		if !fb.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"echo": string(data)})
	})

	mux.HandleFunc("/api/broken/", func(w http.ResponseWriter, r *http.Request) {
		fb.resourceHits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	mux.HandleFunc("/api/files/", func(w http.ResponseWriter, r *http.Request) {
		fb.authorized(r)
		fb.mu.Lock()
		to := fb.redirectTo
		fb.mu.Unlock()
		http.Redirect(w, r, to, http.StatusFound)
	})

	mux.HandleFunc("/api/users/register/", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username == "" || strings.TrimSpace(req.Password) == "" {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"username": {"This field is required."}})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": 2, "username": req.Username, "user_type": req.Role})
	})

	mux.HandleFunc("/api/users/logout/", func(w http.ResponseWriter, r *http.Request) {
		if !fb.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		data, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.lastBodies = append(fb.lastBodies, string(data))
		fb.mu.Unlock()
		w.WriteHeader(http.StatusResetContent)
	})

	return mux
}
