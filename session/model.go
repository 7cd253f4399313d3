package session

import "time"

// State is the lifecycle state of a caller's session.
type State uint8

const (
	// StateAnonymous is a caller without a session. It is never persisted.
	StateAnonymous State = iota
	// StateAuthenticated is a live session bound to a principal.
	StateAuthenticated
	// StateLoggedOut marks a session that has been invalidated.
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session is the server-side record of an authenticated caller. Roles are a
// snapshot taken at login.
type Session struct {
	ID          string
	PrincipalID string
	Username    string
	Roles       []string
	DeviceID    string
	State       State

	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}
