package password

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Bcrypt verifies (and, for seeding, produces) bcrypt hashes such as those
// written by Spring's BCryptPasswordEncoder.
type Bcrypt struct {
	cost  int
	dummy string
}

// NewBcrypt returns a Bcrypt hasher. cost outside [bcrypt.MinCost,
// bcrypt.MaxCost] is rejected; zero selects bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.In("password").
			Code("PASSWORD_CONFIG").
			With("cost", cost).
			Wrapf(ErrInvalidConfig, "bcrypt cost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	b := &Bcrypt{cost: cost}
	secret, err := unguessableSecret()
	if err != nil {
		return nil, err
	}
	if b.dummy, err = b.Hash(secret); err != nil {
		return nil, err
	}
	return b, nil
}

// Hash returns a bcrypt hash of password.
func (b *Bcrypt) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", oops.In("password").
			Code("PASSWORD_TOO_SHORT").
			With("min_bytes", minPassBytes).
			Wrapf(ErrWeakPassword, "password must be at least %d bytes", minPassBytes)
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		// bcrypt rejects secrets longer than 72 bytes
		return "", oops.In("password").Code("PASSWORD_BCRYPT").Wrapf(ErrWeakPassword, "%v", err)
	}
	return string(out), nil
}

// Verify reports whether password matches encodedHash.
func (b *Bcrypt) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !isBcrypt(encodedHash) {
		return false, oops.In("password").
			Code("PASSWORD_UNSUPPORTED_HASH").
			Wrapf(ErrUnsupportedHash, "not a bcrypt hash")
	}

	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, malformed(err.Error())
	}
}

// NeedsUpgrade reports whether encodedHash was produced with a lower cost.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, malformed(err.Error())
	}
	return cost < b.cost, nil
}

// DummyHash returns a hash of a discarded random secret at the configured
// cost.
func (b *Bcrypt) DummyHash() string {
	return b.dummy
}

// Cost returns the work factor new hashes are produced with.
func (b *Bcrypt) Cost() int {
	return b.cost
}

func isBcrypt(encodedHash string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(encodedHash, p) {
			return true
		}
	}
	return false
}
