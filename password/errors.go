package password

import "errors"

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedHash is returned for hashes of an unknown scheme or version.
	ErrUnsupportedHash = errors.New("password: unsupported hash scheme")
	// ErrWeakPassword is returned by Hash for secrets that cannot be hashed safely.
	ErrWeakPassword = errors.New("password: password rejected")
	// ErrInvalidConfig is returned for unsafe hasher parameters.
	ErrInvalidConfig = errors.New("password: invalid configuration")
)
