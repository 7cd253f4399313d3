package goGate

import "errors"

var (
	// ErrAuthenticationFailed is the single error callers see for every failed
	// login: unknown principal, wrong secret, or an unavailable collaborator.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrPrincipalNotFound is returned by a PrincipalDirectory when no
	// principal has the requested username.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrDirectoryUnavailable marks a principal directory failure. It is
	// recorded internally and never returned from Login.
	ErrDirectoryUnavailable = errors.New("principal directory unavailable")
	// ErrVerifierUnavailable marks a password verifier failure. It is recorded
	// internally and never returned from Login.
	ErrVerifierUnavailable = errors.New("password verifier unavailable")
	// ErrSessionNotFound is returned by Resolve for absent, logged-out or
	// expired sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStoreUnavailable is returned when the session store cannot be
	// reached. Requests fail closed.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	// ErrRememberMeInvalid is returned for absent, expired, malformed or
	// forged remember-me tokens.
	ErrRememberMeInvalid = errors.New("remember-me token invalid")
	// ErrRememberMeTheft is returned when a known series is presented with a
	// stale or wrong value. The series has already been revoked.
	ErrRememberMeTheft = errors.New("remember-me token theft detected")
	// ErrRememberMeDisabled is returned by remember-me operations when the
	// feature is turned off.
	ErrRememberMeDisabled = errors.New("remember-me disabled")
	// ErrLoginThrottled is returned by Login while the username or client
	// address has exhausted its failed-attempt budget.
	ErrLoginThrottled = errors.New("too many failed login attempts")
	// ErrConfiguration wraps every startup configuration problem.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
