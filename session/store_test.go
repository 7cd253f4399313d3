package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

func newSessionStoreTest(t *testing.T, opts Options) (*Store, *miniredis.Miniredis, *testClock, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := newTestClock()
	opts.Now = clock.Now
	store := NewStore(rdb, opts)
	return store, mr, clock, func() {
		rdb.Close()
		mr.Close()
	}
}

func testSession() *Session {
	return &Session{
		PrincipalID: "p-1",
		Username:    "alice",
		Roles:       []string{"ADMIN", "DBA"},
		DeviceID:    "laptop",
	}
}

func TestCreateAndGet(t *testing.T) {
	store, mr, clock, done := newSessionStoreTest(t, Options{})
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" || sess.State != StateAuthenticated {
		t.Fatalf("create must assign id and state: %+v", sess)
	}
	if !sess.ExpiresAt.Equal(clock.Now().Add(DefaultAbsoluteTimeout)) {
		t.Fatalf("unexpected absolute expiry %v", sess.ExpiresAt)
	}
	if !mr.Exists("gg:s:" + sess.ID) {
		t.Fatal("expected session key in redis")
	}
	if ok, _ := mr.SIsMember("gg:p:p-1", sess.ID); !ok {
		t.Fatal("expected session id in principal index")
	}
	if ttl := mr.TTL("gg:s:" + sess.ID); ttl <= 0 || ttl > DefaultIdleTimeout {
		t.Fatalf("expected ttl bounded by idle timeout, got %v", ttl)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Username != "alice" || len(got.Roles) != 2 || got.DeviceID != "laptop" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestResolveSlidesIdleWindow(t *testing.T) {
	store, mr, clock, done := newSessionStoreTest(t, Options{IdleTimeout: 30 * time.Minute})
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(20 * time.Minute)
	if _, err := store.Resolve(ctx, sess.ID); err != nil {
		t.Fatalf("resolve within idle window: %v", err)
	}

	clock.Advance(20 * time.Minute)
	if _, err := store.Resolve(ctx, sess.ID); err != nil {
		t.Fatalf("resolve after slide: %v", err)
	}

	clock.Advance(31 * time.Minute)
	if _, err := store.Resolve(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idle expiry, got %v", err)
	}
	if mr.Exists("gg:s:" + sess.ID) {
		t.Fatal("expired session must be evicted")
	}
	if ok, _ := mr.SIsMember("gg:p:p-1", sess.ID); ok {
		t.Fatal("expired session must leave the index")
	}
}

func TestGetDoesNotSlide(t *testing.T) {
	store, _, clock, done := newSessionStoreTest(t, Options{IdleTimeout: 10 * time.Minute})
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(8 * time.Minute)
	if _, err := store.Get(ctx, sess.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	clock.Advance(3 * time.Minute)
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idle expiry without resolve, got %v", err)
	}
}

func TestAbsoluteExpiry(t *testing.T) {
	store, _, clock, done := newSessionStoreTest(t, Options{IdleTimeout: -1, AbsoluteTimeout: time.Hour})
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := store.Resolve(ctx, sess.ID); err != nil {
		t.Fatalf("resolve before absolute expiry: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := store.Resolve(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected absolute expiry, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t, Options{})
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	existed, err := store.Delete(ctx, sess.ID)
	if err != nil || !existed {
		t.Fatalf("first delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, sess.ID)
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}

	if _, err := store.Resolve(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
	if mr.Exists("gg:p:p-1") {
		t.Fatal("expected empty principal index to be removed")
	}
}

func TestDeleteAllForPrincipal(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t, Options{})
	defer done()
	ctx := context.Background()

	a, b, other := testSession(), testSession(), testSession()
	other.PrincipalID = "p-2"
	for _, s := range []*Session{a, b, other} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := store.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	removed, err := store.DeleteAllForPrincipal(ctx, "p-1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 live session removed, got %d", removed)
	}
	if _, err := store.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session a gone, got %v", err)
	}
	if _, err := store.Get(ctx, other.ID); err != nil {
		t.Fatalf("other principal's session must survive: %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "p-1")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty index, got %v err=%v", ids, err)
	}
}

func TestGetRejectsMalformedAndCorrupt(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t, Options{})
	defer done()
	ctx := context.Background()

	if _, err := store.Get(ctx, "not-a-session-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mr.Set("gg:s:"+sess.ID, "\x09garbage"); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for corrupt record, got %v", err)
	}
	if mr.Exists("gg:s:" + sess.ID) {
		t.Fatal("corrupt record must be removed")
	}
}

func TestStoreUnavailable(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t, Options{})
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.Close()

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Delete(ctx, sess.ID); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := store.Create(ctx, testSession()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Ping(ctx); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestCreateRequiresPrincipal(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t, Options{})
	defer done()

	if err := store.Create(context.Background(), &Session{Username: "nobody"}); err == nil {
		t.Fatal("expected error for session without principal")
	}
}
