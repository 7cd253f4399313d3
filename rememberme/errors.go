package rememberme

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is returned when a token is absent, expired, revoked, or its
	// cookie fails verification.
	ErrInvalid = errors.New("rememberme: invalid token")
	// ErrTheft is returned when a live series is presented with a stale or
	// forged value. The series is revoked before the error is returned.
	ErrTheft = errors.New("rememberme: token theft suspected")
	// ErrRedisUnavailable is returned when the backing store cannot be reached.
	ErrRedisUnavailable = errors.New("rememberme: redis unavailable")
)

// TheftError describes the series revoked after a value mismatch. It matches
// [ErrTheft] with errors.Is.
type TheftError struct {
	Series      string
	PrincipalID string
	Username    string
	DeviceID    string
}

func (e *TheftError) Error() string {
	return fmt.Sprintf("rememberme: token theft suspected for principal %q", e.PrincipalID)
}

// Is reports whether target is ErrTheft.
func (e *TheftError) Is(target error) bool {
	return target == ErrTheft
}
