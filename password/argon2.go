package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10
	algorithmID           = "argon2id"
	argon2Prefix          = "$" + algorithmID + "$"

	// DefaultMaxPasswordBytes bounds the secret length accepted by Hash and
	// Verify when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

// Config holds argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxPasswordBytes caps the secret length; zero selects
	// DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies argon2id PHC strings. It is immutable after
// construction and safe for concurrent use.
type Argon2 struct {
	config Config
	dummy  string
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}

	a := &Argon2{config: cfg}
	secret, err := unguessableSecret()
	if err != nil {
		return nil, err
	}
	if len(secret) > cfg.MaxPasswordBytes {
		secret = secret[:cfg.MaxPasswordBytes]
	}
	if a.dummy, err = a.Hash(secret); err != nil {
		return nil, err
	}
	return a, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
// Passwords are processed as raw bytes; no Unicode normalization is applied.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", oops.In("password").
			Code("PASSWORD_TOO_SHORT").
			With("min_bytes", minPassBytes).
			Wrapf(ErrWeakPassword, "password must be at least %d bytes", minPassBytes)
	}
	if len(password) > a.config.MaxPasswordBytes {
		return "", oops.In("password").
			Code("PASSWORD_TOO_LONG").
			With("max_bytes", a.config.MaxPasswordBytes).
			Wrapf(ErrWeakPassword, "password must be at most %d bytes", a.config.MaxPasswordBytes)
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", oops.In("password").Code("PASSWORD_ENTROPY").Wrap(err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether password matches encodedHash. A malformed or
// foreign hash is an error, not a mismatch. Secrets longer than
// MaxPasswordBytes never match and are not hashed.
func (a *Argon2) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if len(password) > a.config.MaxPasswordBytes {
		return false, nil
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	if a.config.Memory > parsed.memory {
		return true, nil
	}
	if a.config.Time > parsed.time {
		return true, nil
	}
	if a.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if a.config.KeyLength != parsed.keyLength {
		return true, nil
	}

	return false, nil
}

// DummyHash returns a hash of a discarded random secret, produced under the
// hasher's own parameters. Verifying against it costs the same as verifying
// a real hash from this hasher and never succeeds.
func (a *Argon2) DummyHash() string {
	return a.dummy
}

func unguessableSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", oops.In("password").Code("PASSWORD_ENTROPY").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func malformed(reason string) error {
	return oops.In("password").
		Code("PASSWORD_MALFORMED_HASH").
		Wrapf(ErrMalformedHash, "%s", reason)
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, malformed("invalid PHC format")
	}

	if parts[1] != algorithmID {
		return nil, oops.In("password").
			Code("PASSWORD_UNSUPPORTED_HASH").
			With("algorithm", parts[1]).
			Wrapf(ErrUnsupportedHash, "unsupported algorithm")
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, malformed("missing argon2 version")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil {
		return nil, malformed("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, oops.In("password").
			Code("PASSWORD_UNSUPPORTED_HASH").
			With("version", version).
			Wrapf(ErrUnsupportedHash, "unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil {
		return nil, malformed("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, malformed("invalid salt length")
	}

	hash, err := decodeB64(parts[5])
	if err != nil {
		return nil, malformed("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, malformed("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

// decodeB64 accepts both the unpadded PHC encoding and padded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, malformed("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedParams
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, malformed("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, malformed("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, malformed("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, malformed("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, malformed("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, malformed("missing parameters")
	}

	return &params, nil
}

func validateConfig(cfg Config) error {
	errb := oops.In("password").Code("PASSWORD_CONFIG")
	switch {
	case cfg.Memory < minMemoryKB:
		return errb.Wrapf(ErrInvalidConfig, "memory must be >= %d KiB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return errb.Wrapf(ErrInvalidConfig, "time must be >= %d", minTimeCost)
	case cfg.Parallelism < minParallelism:
		return errb.Wrapf(ErrInvalidConfig, "parallelism must be >= %d", minParallelism)
	case cfg.SaltLength < minSaltLength:
		return errb.Wrapf(ErrInvalidConfig, "salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return errb.Wrapf(ErrInvalidConfig, "key length must be >= %d", minKeyLength)
	case cfg.MaxPasswordBytes < 0:
		return errb.Wrapf(ErrInvalidConfig, "max password bytes must not be negative")
	case cfg.MaxPasswordBytes > 0 && cfg.MaxPasswordBytes < minPassBytes:
		return errb.Wrapf(ErrInvalidConfig, "max password bytes must be >= %d", minPassBytes)
	}
	return nil
}
