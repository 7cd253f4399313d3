package goGate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/policy"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mapDirectory struct {
	mu         sync.Mutex
	principals map[string]*Principal
	err        error
	lookups    atomic.Int64
}

func (d *mapDirectory) LookupByUsername(_ context.Context, username string) (*Principal, error) {
	d.lookups.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	p, ok := d.principals[username]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *mapDirectory) put(p *Principal) {
	d.mu.Lock()
	d.principals[p.Username] = p
	d.mu.Unlock()
}

func (d *mapDirectory) remove(username string) {
	d.mu.Lock()
	delete(d.principals, username)
	d.mu.Unlock()
}

func (d *mapDirectory) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

const testPassword = "correct-horse-battery"

func canonicalRules() []policy.RuleSpec {
	return []policy.RuleSpec{
		{Patterns: []string{"/resources/**", "/signup", "/about"}, Requirement: policy.PermitAll()},
		{Patterns: []string{"/admin/**"}, Requirement: policy.RoleAny("ADMIN")},
		{Patterns: []string{"/db/**"}, Requirement: policy.RoleAll("ADMIN", "DBA")},
		{Patterns: []string{"/db/**"}, Requirement: policy.RoleAny("ADMIN", "DBA")},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy.Rules = canonicalRules()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.RememberMe.Enabled = true
	cfg.RememberMe.SigningKey = []byte("gogate-test-remember-me-key")
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func hashPassword(t testing.TB, secret string) string {
	t.Helper()
	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	return hash
}

type engineFixture struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	dir    *mapDirectory
	clock  *testClock
	sink   *ChannelSink
}

func newEngineFixture(t testing.TB, mutate func(*Config)) *engineFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	hash := hashPassword(t, testPassword)
	dir := &mapDirectory{principals: map[string]*Principal{
		"alice": {ID: "p-alice", Username: "alice", Roles: []string{"ADMIN", "DBA"}, CredentialHash: hash},
		"bob":   {ID: "p-bob", Username: "bob", Roles: []string{"ADMIN"}, CredentialHash: hash},
		"carol": {ID: "p-carol", Username: "carol", Roles: []string{"USER"}, CredentialHash: hash},
	}}

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newTestClock()
	sink := NewChannelSink(1024)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return &engineFixture{engine: engine, mr: mr, rdb: rdb, dir: dir, clock: clock, sink: sink}
}

// auditEvents closes the engine's dispatcher and drains everything it
// delivered.
func (f *engineFixture) auditEvents() []AuditEvent {
	f.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-f.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *engineFixture) login(t *testing.T, username string, opts LoginOptions) *LoginResult {
	t.Helper()
	res, err := f.engine.Login(context.Background(), username, testPassword, opts)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", username, err)
	}
	return res
}

func TestBuildRequiresCollaborators(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := New().WithDirectory(&mapDirectory{}).Build(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without redis, got %v", err)
	}
	if _, err := New().WithRedis(rdb).Build(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without directory, got %v", err)
	}

	b := New().WithRedis(rdb).WithDirectory(&mapDirectory{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("second Build must fail, got %v", err)
	}
	if engine.RememberMeEnabled() {
		t.Fatal("remember-me must be disabled by default")
	}
}

func TestBuildRejectsInvalidRuleTable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err = New().
		WithRedis(rdb).
		WithDirectory(&mapDirectory{}).
		WithRules(policy.RuleSpec{Patterns: []string{"admin/**"}, Requirement: policy.RoleAny("ADMIN")}).
		Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if _, err := e.Login(ctx, "alice", "x", LoginOptions{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Login: expected ErrEngineNotReady, got %v", err)
	}
	res, err := e.Authorize(ctx, AccessRequest{Path: "/about"})
	if !errors.Is(err, ErrEngineNotReady) || res.Decision != policy.DecisionDeny {
		t.Fatalf("Authorize: expected DENY and ErrEngineNotReady, got %v %v", res.Decision, err)
	}
	if err := e.Logout(ctx, "s"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Logout: expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
}

func TestPing(t *testing.T) {
	f := newEngineFixture(t, nil)

	if _, err := f.engine.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	f.mr.Close()
	if _, err := f.engine.Ping(context.Background()); !errors.Is(err, ErrSessionStoreUnavailable) {
		t.Fatalf("expected ErrSessionStoreUnavailable, got %v", err)
	}
}
