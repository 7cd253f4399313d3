package rememberme

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/MrEthical07/goGate/internal"
	"github.com/MrEthical07/goGate/jwt"
)

const (
	// DefaultValidity is the lifetime of a token and of each rotation.
	DefaultValidity = 1800 * time.Second
	// DefaultDeviceID binds tokens issued without a device identifier.
	DefaultDeviceID = "default"
)

// Binding identifies who a token is issued to.
type Binding struct {
	PrincipalID string
	Username    string
	DeviceID    string
}

// Token is a live remember-me token. Value is only ever held in memory and
// in the client's cookie; the store keeps its digest.
type Token struct {
	Series      string
	Value       string
	PrincipalID string
	Username    string
	DeviceID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Options configures a [Manager].
type Options struct {
	// Validity is the lifetime granted at issue and on every rotation. Zero
	// selects DefaultValidity.
	Validity time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Manager issues, rotates and revokes remember-me tokens, and converts them
// to and from signed cookie values. It is safe for concurrent use; all
// coordination happens in the store.
type Manager struct {
	store    *Store
	signer   *jwt.Manager
	validity time.Duration
	now      func() time.Time
}

// NewManager returns a Manager over store. signer signs the cookie artifact.
func NewManager(store *Store, signer *jwt.Manager, opts Options) (*Manager, error) {
	if store == nil || signer == nil {
		return nil, oops.In("rememberme").Code("REMEMBERME_CONFIG").
			Errorf("store and signer are required")
	}
	if opts.Validity < 0 {
		return nil, oops.In("rememberme").Code("REMEMBERME_CONFIG").
			With("validity", opts.Validity).
			Errorf("validity must not be negative")
	}
	if opts.Validity == 0 {
		opts.Validity = DefaultValidity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{store: store, signer: signer, validity: opts.Validity, now: opts.Now}, nil
}

// Validity returns the configured token lifetime.
func (m *Manager) Validity() time.Duration {
	return m.validity
}

// Issue creates a new series for b, replacing any series already bound to
// the same principal and device.
func (m *Manager) Issue(ctx context.Context, b Binding) (*Token, error) {
	if strings.TrimSpace(b.PrincipalID) == "" {
		return nil, oops.In("rememberme").Code("REMEMBERME_INVALID_BINDING").
			Errorf("binding requires a principal")
	}
	deviceID := normalizeDevice(b.DeviceID)

	series := uuid.NewString()
	value, err := internal.NewSecret()
	if err != nil {
		return nil, oops.In("rememberme").Code("REMEMBERME_ENTROPY").Wrap(err)
	}

	now := m.now()
	tok := &Token{
		Series:      series,
		Value:       value,
		PrincipalID: b.PrincipalID,
		Username:    b.Username,
		DeviceID:    deviceID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.validity),
	}

	rec := Record{
		Series:      series,
		PrincipalID: tok.PrincipalID,
		Username:    tok.Username,
		DeviceID:    deviceID,
		IssuedAt:    tok.IssuedAt,
		ExpiresAt:   tok.ExpiresAt,
	}
	if _, err := m.store.Save(ctx, rec, internal.HashSecret(value), now); err != nil {
		return nil, err
	}

	return tok, nil
}

// Consume validates (series, value) and rotates the value. Exactly one of any
// set of concurrent calls presenting the same value succeeds; the others see
// a mismatch, which revokes the series.
//
// Errors: [ErrInvalid] for absent or expired series, an error matching
// [ErrTheft] (a [*TheftError]) for a value mismatch, and
// [ErrRedisUnavailable] when the store cannot be reached.
func (m *Manager) Consume(ctx context.Context, series, value string) (*Token, error) {
	if series == "" || value == "" {
		return nil, ErrInvalid
	}
	if _, err := uuid.Parse(series); err != nil {
		return nil, ErrInvalid
	}

	next, err := internal.NewSecret()
	if err != nil {
		return nil, oops.In("rememberme").Code("REMEMBERME_ENTROPY").Wrap(err)
	}

	now := m.now()
	expiresAt := now.Add(m.validity)
	rec, err := m.store.Rotate(ctx, series, internal.HashSecret(value), internal.HashSecret(next), now, expiresAt)
	if err != nil {
		return nil, err
	}

	return &Token{
		Series:      series,
		Value:       next,
		PrincipalID: rec.PrincipalID,
		Username:    rec.Username,
		DeviceID:    rec.DeviceID,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Revoke removes every series of principalID and returns how many existed.
func (m *Manager) Revoke(ctx context.Context, principalID string) (int, error) {
	return m.store.DeleteAllForPrincipal(ctx, principalID)
}

// RevokeDevice removes the series bound to (principalID, deviceID).
func (m *Manager) RevokeDevice(ctx context.Context, principalID, deviceID string) (bool, error) {
	return m.store.DeleteDevice(ctx, principalID, normalizeDevice(deviceID))
}

// RevokeSeries removes one series.
func (m *Manager) RevokeSeries(ctx context.Context, series string) (bool, error) {
	if _, err := uuid.Parse(series); err != nil {
		return false, nil
	}
	return m.store.DeleteSeries(ctx, series)
}

// Encode returns the signed cookie value for t. The cookie expires with the
// token.
func (m *Manager) Encode(t *Token) (string, error) {
	if t == nil {
		return "", oops.In("rememberme").Code("REMEMBERME_ENCODE").Errorf("nil token")
	}
	return m.signer.SignRememberMe(t.Series, t.Value, t.ExpiresAt)
}

// Decode verifies a cookie value and returns the series and value it
// carries. Any verification failure is [ErrInvalid].
func (m *Manager) Decode(cookie string) (string, string, error) {
	claims, err := m.signer.ParseRememberMe(cookie)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidToken) {
			return "", "", oops.In("rememberme").Code("REMEMBERME_COOKIE").Wrapf(ErrInvalid, "%v", err)
		}
		return "", "", err
	}
	return claims.Series, claims.Value, nil
}

func normalizeDevice(deviceID string) string {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return DefaultDeviceID
	}
	return deviceID
}
