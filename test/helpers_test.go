package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/directory"
	"github.com/MrEthical07/goGate/internal/logging"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/policy"
)

const secret = "correct-horse-battery"

// redisMode describes which Redis backend a suite runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes returns miniredis plus a real standalone Redis when REDIS_ADDR
// is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				mr := miniredis.RunT(t)
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = rdb.Close() })
				return rdb
			},
		},
	}

	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				t.Cleanup(func() { rdb.FlushDB(context.Background()); _ = rdb.Close() })
				return rdb
			},
		})
	}

	return modes
}

// newGateway builds an engine through the public API only, with the rule
// table used across this suite.
func newGateway(t *testing.T, rdb redis.UniversalClient, mutate func(*goGate.Config)) *goGate.Engine {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	dir, err := directory.NewStatic(
		goGate.Principal{ID: "p-alice", Username: "alice", Roles: []string{"ADMIN", "DBA"}, CredentialHash: hash},
		goGate.Principal{ID: "p-bob", Username: "bob", Roles: []string{"ADMIN"}, CredentialHash: hash},
		goGate.Principal{ID: "p-carol", Username: "carol", Roles: []string{"USER"}, CredentialHash: hash},
	)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	cfg := goGate.DefaultConfig()
	cfg.RememberMe.Enabled = true
	cfg.RememberMe.SigningKey = []byte("integration-signing-key-0123456789")
	cfg.Policy.Rules = []policy.RuleSpec{
		{Patterns: []string{"/resources/**", "/signup", "/about"}, Requirement: policy.PermitAll()},
		{Patterns: []string{"/admin/**"}, Requirement: policy.RoleAny("ADMIN")},
		{Patterns: []string{"/db/**"}, Requirement: policy.RoleAll("ADMIN", "DBA")},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithVerifier(hasher).
		WithLogger(logging.Discard()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
