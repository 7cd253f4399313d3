package password

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newFastArgon2(t *testing.T) *Argon2 {
	t.Helper()
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return hasher
}

func TestHashAndVerify(t *testing.T) {
	hasher := newFastArgon2(t)

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify(context.Background(), "P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher := newFastArgon2(t)

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify(context.Background(), "wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	hasher := newFastArgon2(t)

	hash, err := hasher.Hash("padded-encoding")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	parts := strings.Split(hash, "$")
	parts[4] += "=="
	parts[5] += "="
	padded := strings.Join(parts, "$")

	ok, err := hasher.Verify(context.Background(), "padded-encoding", padded)
	if err != nil || !ok {
		t.Fatalf("expected padded hash to verify: ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher := newFastArgon2(t)

	hash, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	newHasher, err := NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2(new) error: %v", err)
	}

	needsUpgrade, err := newHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !needsUpgrade {
		t.Fatal("expected NeedsUpgrade to return true for weaker hash parameters")
	}

	same, err := oldHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if same {
		t.Fatal("expected NeedsUpgrade to return false for current parameters")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newFastArgon2(t)

	_, err := hasher.Verify(context.Background(), "password", "not-a-phc-hash")
	if !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	hasher := newFastArgon2(t)

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify(context.Background(), "version-test", wrongVersion); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestVerifyCanceledContext(t *testing.T) {
	hasher := newFastArgon2(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := hasher.Verify(ctx, "whatever-password", hasher.DummyHash()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDummyHashNeverMatches(t *testing.T) {
	hasher := newFastArgon2(t)

	for _, secret := range []string{"", "password", "AAAAAAAAAAAAAAAA"} {
		ok, err := hasher.Verify(context.Background(), secret, hasher.DummyHash())
		if err != nil {
			t.Fatalf("dummy hash must parse: %v", err)
		}
		if ok {
			t.Fatalf("dummy hash matched %q", secret)
		}
	}
}

func TestDummyHashUsesConfiguredParameters(t *testing.T) {
	configs := []Config{
		fastConfig(),
		{Memory: 16 * 1024, Time: 2, Parallelism: 3, SaltLength: 24, KeyLength: 48},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MaxPasswordBytes: 12},
	}
	for i, cfg := range configs {
		hasher, err := NewArgon2(cfg)
		if err != nil {
			t.Fatalf("case %d: NewArgon2 error: %v", i, err)
		}

		dummy, err := parsePHC(hasher.DummyHash())
		if err != nil {
			t.Fatalf("case %d: dummy hash must parse: %v", i, err)
		}
		if dummy.memory != cfg.Memory || dummy.time != cfg.Time || dummy.parallelism != cfg.Parallelism {
			t.Fatalf("case %d: dummy params m=%d,t=%d,p=%d, want m=%d,t=%d,p=%d", i,
				dummy.memory, dummy.time, dummy.parallelism, cfg.Memory, cfg.Time, cfg.Parallelism)
		}
		if dummy.keyLength != cfg.KeyLength || len(dummy.salt) != int(cfg.SaltLength) {
			t.Fatalf("case %d: dummy key/salt length %d/%d, want %d/%d", i,
				dummy.keyLength, len(dummy.salt), cfg.KeyLength, cfg.SaltLength)
		}

		up, err := hasher.NeedsUpgrade(hasher.DummyHash())
		if err != nil || up {
			t.Fatalf("case %d: dummy hash must match current parameters: up=%v err=%v", i, up, err)
		}
	}
}

func TestDummyHashDiffersPerHasher(t *testing.T) {
	a, b := newFastArgon2(t), newFastArgon2(t)
	if a.DummyHash() == b.DummyHash() {
		t.Fatal("dummy hashes must be salted independently")
	}
}

func TestHashRejectsShortAndLongPasswords(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	hasher, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	for _, pwd := range []string{"", "short", strings.Repeat("a", 65)} {
		if _, err := hasher.Hash(pwd); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("expected ErrWeakPassword for %d bytes, got %v", len(pwd), err)
		}
	}

	exact := strings.Repeat("b", 64)
	hash, err := hasher.Hash(exact)
	if err != nil {
		t.Fatalf("expected exactly-max password to be accepted: %v", err)
	}
	ok, err := hasher.Verify(context.Background(), exact, hash)
	if err != nil || !ok {
		t.Fatalf("Verify failed for max-length password: ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify(context.Background(), strings.Repeat("c", 65), hash)
	if err != nil || ok {
		t.Fatalf("overlong secret must not match: ok=%v err=%v", ok, err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	weak := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MaxPasswordBytes: -1},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MaxPasswordBytes: 4},
	}
	for i, cfg := range weak {
		if _, err := NewArgon2(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}
