package password

import (
	"context"
	"strings"

	"github.com/samber/oops"
)

// Scheme names a hash family the Chain understands.
type Scheme string

const (
	SchemeArgon2id Scheme = "argon2id"
	SchemeBcrypt   Scheme = "bcrypt"
)

// ParseScheme maps a configuration value to a Scheme. Empty selects
// argon2id.
func ParseScheme(s string) (Scheme, bool) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeArgon2id:
		return SchemeArgon2id, true
	case SchemeBcrypt:
		return SchemeBcrypt, true
	default:
		return "", false
	}
}

// Chain dispatches verification by hash scheme: argon2id PHC strings go to
// the argon2 hasher, bcrypt strings to the bcrypt hasher. New hashes are
// always argon2id.
type Chain struct {
	argon  *Argon2
	bcrypt *Bcrypt
	dummy  Scheme
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithDummyScheme selects which hasher's dummy hash unknown usernames are
// verified against. Directories still holding mostly bcrypt hashes should
// pick SchemeBcrypt so a miss costs what a hit costs. Ignored when the
// bcrypt hasher is nil.
func WithDummyScheme(s Scheme) ChainOption {
	return func(c *Chain) {
		c.dummy = s
	}
}

// NewChain returns a Chain over the given hashers. bcrypt may be nil, in
// which case bcrypt hashes are reported as unsupported.
func NewChain(argon *Argon2, bcrypt *Bcrypt, opts ...ChainOption) *Chain {
	c := &Chain{argon: argon, bcrypt: bcrypt, dummy: SchemeArgon2id}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultChain returns a Chain with default argon2id parameters and
// bcrypt at its default cost.
func NewDefaultChain() *Chain {
	argon, err := NewArgon2(DefaultConfig())
	if err != nil {
		panic("password: default argon2 config rejected: " + err.Error())
	}
	bc, err := NewBcrypt(0)
	if err != nil {
		panic("password: default bcrypt cost rejected: " + err.Error())
	}
	return NewChain(argon, bc)
}

// Hash produces an argon2id hash.
func (c *Chain) Hash(password string) (string, error) {
	return c.argon.Hash(password)
}

// Verify reports whether password matches encodedHash.
func (c *Chain) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return c.argon.Verify(ctx, password, encodedHash)
	case isBcrypt(encodedHash) && c.bcrypt != nil:
		return c.bcrypt.Verify(ctx, password, encodedHash)
	default:
		return false, oops.In("password").
			Code("PASSWORD_UNSUPPORTED_HASH").
			Wrapf(ErrUnsupportedHash, "no verifier for hash scheme")
	}
}

// NeedsUpgrade reports whether encodedHash should be replaced by a fresh
// argon2id hash. Every bcrypt hash needs an upgrade.
func (c *Chain) NeedsUpgrade(encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		return true, nil
	}
	return c.argon.NeedsUpgrade(encodedHash)
}

// DummyHash returns the dummy hash of the selected scheme.
func (c *Chain) DummyHash() string {
	if c.dummy == SchemeBcrypt && c.bcrypt != nil {
		return c.bcrypt.DummyHash()
	}
	return c.argon.DummyHash()
}
