package session

import (
	"fmt"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

// Status is the authentication status of a session
type Status int

const (
	StatusInitializing Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// LoadingState tells views whether the session check has finished
type LoadingState int

const (
	LoadingInitializing LoadingState = iota
	LoadingReady
)

func (l LoadingState) String() string {
	switch l {
	case LoadingInitializing:
		return "initializing"
	case LoadingReady:
		return "ready"
	default:
		return fmt.Sprintf("LoadingState(%d)", int(l))
	}
}

// State is a snapshot of the session. User is non-nil only when Authenticated
// and is a copy owned by the caller.
type State struct {
	Status  Status
	Loading LoadingState
	User    *entities.User
}

// Ready reports whether the session check has finished
func (s State) Ready() bool {
	return s.Loading == LoadingReady
}

// Authenticated reports whether a user is signed in
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}

// CurrentUser returns the signed-in user or nil
func (s State) CurrentUser() *entities.User {
	return s.User
}

func (s State) clone() State {
	s.User = s.User.Clone()
	return s
}
