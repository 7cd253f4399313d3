package policy

import "errors"

var (
	// ErrInvalidPattern is returned when a path pattern cannot be compiled.
	ErrInvalidPattern = errors.New("policy: invalid pattern")
	// ErrInvalidRule is returned when a rule is structurally invalid.
	ErrInvalidRule = errors.New("policy: invalid rule")
)
