package rememberme

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGate/jwt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type fixture struct {
	mgr   *Manager
	mr    *miniredis.Miniredis
	clock *testClock
}

func newRememberMeTest(t *testing.T) (*fixture, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := &testClock{now: time.Now().Truncate(time.Second)}

	signer, err := jwt.NewManager(jwt.Config{
		PrivateKey: []byte("remember-me-test-signing-key"),
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	mgr, err := NewManager(NewStore(rdb, "t"), signer, Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return &fixture{mgr: mgr, mr: mr, clock: clock}, func() {
		rdb.Close()
		mr.Close()
	}
}

func binding() Binding {
	return Binding{PrincipalID: "p-1", Username: "alice", DeviceID: "laptop"}
}

func TestIssueConsumeRotatesValue(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	tok, err := f.mgr.Issue(ctx, binding())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Series == "" || tok.Value == "" {
		t.Fatalf("issue must produce series and value: %+v", tok)
	}
	if !tok.ExpiresAt.Equal(tok.IssuedAt.Add(DefaultValidity)) {
		t.Fatalf("unexpected expiry: %v", tok.ExpiresAt)
	}
	if got := f.mr.HGet("t:rm:"+tok.Series, "h"); got == tok.Value || got == "" {
		t.Fatal("store must hold a digest, never the value")
	}

	next, err := f.mgr.Consume(ctx, tok.Series, tok.Value)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if next.Series != tok.Series {
		t.Fatal("series must be stable across rotation")
	}
	if next.Value == tok.Value {
		t.Fatal("value must change on rotation")
	}
	if next.PrincipalID != "p-1" || next.Username != "alice" || next.DeviceID != "laptop" {
		t.Fatalf("unexpected binding after rotation: %+v", next)
	}

	if _, err := f.mgr.Consume(ctx, next.Series, next.Value); err != nil {
		t.Fatalf("rotated value must be accepted: %v", err)
	}
}

func TestStaleValueRevokesSeries(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	tok, err := f.mgr.Issue(ctx, binding())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	latest, err := f.mgr.Consume(ctx, tok.Series, tok.Value)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	_, err = f.mgr.Consume(ctx, tok.Series, tok.Value)
	if !errors.Is(err, ErrTheft) {
		t.Fatalf("expected ErrTheft for stale value, got %v", err)
	}
	var theft *TheftError
	if !errors.As(err, &theft) || theft.PrincipalID != "p-1" || theft.DeviceID != "laptop" {
		t.Fatalf("expected theft details, got %#v", err)
	}

	if _, err := f.mgr.Consume(ctx, latest.Series, latest.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("latest value must fail after revocation, got %v", err)
	}
	if f.mr.Exists("t:rm:"+tok.Series) || f.mr.Exists("t:rmd:p-1:laptop") {
		t.Fatal("revoked series must leave no keys behind")
	}
}

func TestConcurrentConsumeExactlyOneWins(t *testing.T) {
	for _, workers := range []int{2, 8} {
		f, done := newRememberMeTest(t)
		ctx := context.Background()

		tok, err := f.mgr.Issue(ctx, binding())
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		var (
			wg                      sync.WaitGroup
			mu                      sync.Mutex
			success, theft, invalid int
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.mgr.Consume(ctx, tok.Series, tok.Value)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case errors.Is(err, ErrTheft):
					theft++
				case errors.Is(err, ErrInvalid):
					invalid++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if success != 1 {
			t.Fatalf("workers=%d: expected exactly one success, got %d", workers, success)
		}
		if theft < 1 {
			t.Fatalf("workers=%d: expected the loser to detect theft", workers)
		}
		if workers == 2 && theft != 1 {
			t.Fatalf("expected one theft with two workers, got %d", theft)
		}
		if success+theft+invalid != workers {
			t.Fatalf("workers=%d: outcomes do not add up: %d/%d/%d", workers, success, theft, invalid)
		}
		if f.mr.Exists("t:rm:" + tok.Series) {
			t.Fatal("series must be revoked after a concurrent replay")
		}
		done()
	}
}

func TestIssueReplacesSeriesPerDevice(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	first, err := f.mgr.Issue(ctx, binding())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	phone := binding()
	phone.DeviceID = "phone"
	other, err := f.mgr.Issue(ctx, phone)
	if err != nil {
		t.Fatalf("issue phone: %v", err)
	}
	second, err := f.mgr.Issue(ctx, binding())
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}

	if _, err := f.mgr.Consume(ctx, first.Series, first.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("replaced series must be invalid, got %v", err)
	}
	if _, err := f.mgr.Consume(ctx, second.Series, second.Value); err != nil {
		t.Fatalf("replacement series must be valid: %v", err)
	}
	if _, err := f.mgr.Consume(ctx, other.Series, other.Value); err != nil {
		t.Fatalf("other device must be untouched: %v", err)
	}
}

func TestExpiryAndRotationResetsWindow(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	tok, err := f.mgr.Issue(ctx, binding())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	f.clock.Advance(20 * time.Minute)
	tok, err = f.mgr.Consume(ctx, tok.Series, tok.Value)
	if err != nil {
		t.Fatalf("consume within validity: %v", err)
	}

	f.clock.Advance(20 * time.Minute)
	tok, err = f.mgr.Consume(ctx, tok.Series, tok.Value)
	if err != nil {
		t.Fatalf("rotation must reset the validity window: %v", err)
	}

	f.clock.Advance(DefaultValidity)
	if _, err := f.mgr.Consume(ctx, tok.Series, tok.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected expired token to be invalid, got %v", err)
	}
	if f.mr.Exists("t:rm:" + tok.Series) {
		t.Fatal("expired series must be removed")
	}
}

func TestRevocation(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	laptop, _ := f.mgr.Issue(ctx, binding())
	phoneBinding := binding()
	phoneBinding.DeviceID = "phone"
	phone, _ := f.mgr.Issue(ctx, phoneBinding)
	tablet := binding()
	tablet.DeviceID = ""
	def, err := f.mgr.Issue(ctx, tablet)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if def.DeviceID != DefaultDeviceID {
		t.Fatalf("empty device must map to %q, got %q", DefaultDeviceID, def.DeviceID)
	}

	ok, err := f.mgr.RevokeDevice(ctx, "p-1", "phone")
	if err != nil || !ok {
		t.Fatalf("revoke device: ok=%v err=%v", ok, err)
	}
	if _, err := f.mgr.Consume(ctx, phone.Series, phone.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("revoked device token must be invalid, got %v", err)
	}

	ok, err = f.mgr.RevokeSeries(ctx, def.Series)
	if err != nil || !ok {
		t.Fatalf("revoke series: ok=%v err=%v", ok, err)
	}
	ok, err = f.mgr.RevokeSeries(ctx, def.Series)
	if err != nil || ok {
		t.Fatalf("second revoke series: ok=%v err=%v", ok, err)
	}

	n, err := f.mgr.Revoke(ctx, "p-1")
	if err != nil || n != 1 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	if _, err := f.mgr.Consume(ctx, laptop.Series, laptop.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("revoked token must be invalid, got %v", err)
	}
	if keys := f.mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys after full revocation, got %v", keys)
	}
}

func TestConsumeRejectsMalformedInput(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	for _, tc := range []struct{ series, value string }{
		{"", "v"},
		{"not-a-uuid", "v"},
		{"5f1c2a3e-8a7b-4c2d-9e0f-112233445566", ""},
		{"5f1c2a3e-8a7b-4c2d-9e0f-112233445566", "unknown"},
	} {
		if _, err := f.mgr.Consume(ctx, tc.series, tc.value); !errors.Is(err, ErrInvalid) {
			t.Fatalf("(%q,%q): expected ErrInvalid, got %v", tc.series, tc.value, err)
		}
	}
}

func TestCookieEncodeDecode(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()

	tok, err := f.mgr.Issue(context.Background(), binding())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	cookie, err := f.mgr.Encode(tok)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	series, value, err := f.mgr.Decode(cookie)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if series != tok.Series || value != tok.Value {
		t.Fatal("decoded cookie does not match token")
	}

	tampered := cookie[:len(cookie)-2] + "xx"
	if _, _, err := f.mgr.Decode(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered cookie, got %v", err)
	}

	f.clock.Advance(DefaultValidity + time.Minute)
	if _, _, err := f.mgr.Decode(cookie); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for expired cookie, got %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	f, done := newRememberMeTest(t)
	defer done()
	ctx := context.Background()

	tok, err := f.mgr.Issue(ctx, binding())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.mr.Close()

	if _, err := f.mgr.Consume(ctx, tok.Series, tok.Value); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := f.mgr.Issue(ctx, binding()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
