package session

import "errors"

var (
	// ErrNotFound is returned when a session does not exist, has expired, or
	// is no longer authenticated.
	ErrNotFound = errors.New("session: not found")
	// ErrCorrupt is returned when a stored session cannot be decoded.
	ErrCorrupt = errors.New("session: corrupt record")
	// ErrRedisUnavailable is returned when the backing store cannot be reached.
	ErrRedisUnavailable = errors.New("session: redis unavailable")
)
