package jwt

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// SigningMethod selects the JWS algorithm used for cookie artifacts.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret. It is the default.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

const minHMACKeyBytes = 16

var (
	// ErrInvalidToken is returned when a token fails signature, algorithm,
	// issuer, audience, or time validation.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrInvalidConfig is returned by NewManager for unusable configuration.
	ErrInvalidConfig = errors.New("jwt: invalid configuration")
)

// Config configures a [Manager].
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for HS256 or the Ed25519 private key
	// (raw or PEM).
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	// MaxFutureIAT rejects tokens issued too far in the future. Zero selects
	// ten minutes.
	MaxFutureIAT time.Duration
	KeyID        string
	// VerifyKeys, when set, selects the verification key by the "kid" header,
	// allowing signing-key rotation without invalidating live cookies.
	VerifyKeys map[string][]byte
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Manager signs and verifies remember-me cookie artifacts. It is immutable
// after construction and safe for concurrent use.
type Manager struct {
	config Config
}

// RememberMeClaims carries the series identifier and the current secret
// value of a remember-me token.
type RememberMeClaims struct {
	Series string `json:"ser"`
	Value  string `json:"val"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	errb := oops.In("jwt").Code("JWT_CONFIG")

	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errb.Wrapf(ErrInvalidConfig, "leeway must be within [0,2m]")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errb.Wrapf(ErrInvalidConfig, "MaxFutureIAT must be within (0,24h]")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, errb.Wrapf(ErrInvalidConfig, "hs256 requires a key of at least %d bytes", minHMACKeyBytes)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, errb.Wrap(err)
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, errb.Wrap(err)
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errb.Wrapf(ErrInvalidConfig, "ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, errb.With("kid", kid).Wrap(err)
			}
		}
	default:
		return nil, errb.With("method", string(cfg.SigningMethod)).
			Wrapf(ErrInvalidConfig, "unsupported signing method")
	}

	for kid := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errb.Wrapf(ErrInvalidConfig, "verify key map contains empty kid")
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errb.With("kid", cfg.KeyID).
				Wrapf(ErrInvalidConfig, "KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// SignRememberMe returns a compact JWS carrying series and value that
// expires at expiresAt.
func (j *Manager) SignRememberMe(series, value string, expiresAt time.Time) (string, error) {
	now := j.config.Now()
	claims := RememberMeClaims{
		Series: series,
		Value:  value,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", oops.In("jwt").Code("JWT_SIGN").Wrap(err)
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", oops.In("jwt").Code("JWT_SIGN").Wrap(err)
	}
	return signed, nil
}

// ParseRememberMe verifies tokenStr and returns its claims. Every failure
// wraps [ErrInvalidToken].
func (j *Manager) ParseRememberMe(tokenStr string) (*RememberMeClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &RememberMeClaims{}, j.keyFunc)
	if err != nil {
		return nil, invalid(err.Error())
	}

	claims, ok := token.Claims.(*RememberMeClaims)
	if !ok || !token.Valid {
		return nil, invalid("invalid claims")
	}
	if claims.Series == "" || claims.Value == "" {
		return nil, invalid("missing series or value")
	}
	if claims.IssuedAt != nil {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, invalid("token iat too far in the future")
		}
	}

	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, errors.New("unexpected signing algorithm: " + t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func invalid(reason string) error {
	return oops.In("jwt").Code("JWT_INVALID").Wrapf(ErrInvalidToken, "%s", reason)
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(j.config.PrivateKey)
	default:
		return j.config.PrivateKey, nil
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(j.config.PublicKey)
	default:
		return j.config.PrivateKey, nil
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(key)
	default:
		return key, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidConfig, "invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, oops.Wrapf(ErrInvalidConfig, "invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidConfig, "invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, oops.Wrapf(ErrInvalidConfig, "invalid ed25519 public key type")
	}
	return edKey, nil
}
