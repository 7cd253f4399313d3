package goGate

import (
	"context"
	"time"

	"github.com/MrEthical07/goGate/policy"
)

// Principal is an identity snapshot returned by a [PrincipalDirectory]. The
// engine never mutates it. CredentialHash is empty on principals resolved
// from a session.
type Principal struct {
	ID             string
	Username       string
	Roles          []string
	CredentialHash string
}

func (p *Principal) subject() *policy.Subject {
	if p == nil {
		return nil
	}
	return &policy.Subject{PrincipalID: p.ID, Roles: p.Roles}
}

// PrincipalDirectory resolves usernames to principals. Implementations return
// an error matching [ErrPrincipalNotFound] for unknown usernames; any other
// error is treated as the directory being unavailable.
type PrincipalDirectory interface {
	LookupByUsername(ctx context.Context, username string) (*Principal, error)
}

// PasswordVerifier compares a presented secret with a stored one-way hash.
// A mismatch is (false, nil); an error means the hash could not be checked.
type PasswordVerifier interface {
	Verify(ctx context.Context, secret, hash string) (bool, error)
}

// DummyHasher is implemented by verifiers that can supply a well-formed hash
// no secret matches. Login verifies against it for unknown usernames so both
// failure branches do the same work.
type DummyHasher interface {
	DummyHash() string
}

// LoginOptions carries the opt-in parts of a login submission.
type LoginOptions struct {
	RememberMe bool
	// DeviceID scopes the remember-me series. Empty selects a shared default.
	DeviceID string
	// ClientIP feeds the per-address login throttle. Empty falls back to
	// the address attached with [WithClientIP].
	ClientIP string
	// PreviousSessionID is the session the caller presented with the login
	// request. It is ended once the credentials check out and before the
	// new session and remember-me series exist.
	PreviousSessionID string
}

// LoginResult is returned by [Engine.Login] on success.
type LoginResult struct {
	SessionID string
	Principal *Principal
	ExpiresAt time.Time

	// RememberMeCookie is the signed cookie value when remember-me was
	// requested and issued; RememberMeExpiresAt is its expiry.
	RememberMeCookie    string
	RememberMeExpiresAt time.Time
}

// AccessRequest describes one inbound request to authorize.
type AccessRequest struct {
	Path             string
	SessionID        string
	RememberMeCookie string
}

// RememberMeOutcome reports what happened to a presented remember-me cookie.
type RememberMeOutcome uint8

const (
	// RememberMeNotUsed means no cookie was consulted.
	RememberMeNotUsed RememberMeOutcome = iota
	// RememberMeRotated means the cookie authenticated the caller and was
	// replaced by AccessResult.RememberMeCookie.
	RememberMeRotated
	// RememberMeRejected means the cookie was invalid or expired and should
	// be cleared.
	RememberMeRejected
	// RememberMeTheft means the cookie matched a known series with a stale
	// value. The series is revoked and the cookie should be cleared.
	RememberMeTheft
)

func (o RememberMeOutcome) String() string {
	switch o {
	case RememberMeRotated:
		return "rotated"
	case RememberMeRejected:
		return "rejected"
	case RememberMeTheft:
		return "theft"
	default:
		return "not_used"
	}
}

// AccessResult is the outcome of [Engine.Authorize].
type AccessResult struct {
	Decision policy.Decision
	Rule     policy.Rule
	// Principal is the caller, if any session or remember-me token
	// identified one.
	Principal *Principal

	// SessionID is set to a fresh session id when a remember-me cookie
	// re-authenticated the caller.
	SessionID        string
	SessionExpiresAt time.Time

	RememberMe          RememberMeOutcome
	RememberMeCookie    string
	RememberMeExpiresAt time.Time
}

// ClearRememberMe reports whether the caller's remember-me cookie must be
// removed.
func (r AccessResult) ClearRememberMe() bool {
	return r.RememberMe == RememberMeRejected || r.RememberMe == RememberMeTheft
}
