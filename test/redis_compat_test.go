//go:build integration

package test

import (
	"context"
	"sync"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/policy"
)

// TestRedisCompat_RememberMeRotationRace checks that the rotation script
// admits exactly one of many concurrent presentations of the same cookie on
// every backend.
func TestRedisCompat_RememberMeRotationRace(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine := newGateway(t, mode.setup(t), nil)
			ctx := context.Background()

			login, err := engine.Login(ctx, "alice", secret, goGate.LoginOptions{RememberMe: true})
			if err != nil {
				t.Fatalf("Login: %v", err)
			}

			const workers = 16
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				allowed int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := engine.Authorize(ctx, goGate.AccessRequest{Path: "/db/x", RememberMeCookie: login.RememberMeCookie})
					if err == nil && res.Decision == policy.DecisionAllow {
						mu.Lock()
						allowed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if allowed != 1 {
				t.Fatalf("expected exactly one winner, got %d", allowed)
			}
		})
	}
}

// TestRedisCompat_IdleExpiry relies on real key TTLs rather than the
// engine clock.
func TestRedisCompat_IdleExpiry(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine := newGateway(t, mode.setup(t), func(cfg *goGate.Config) {
				cfg.Session.IdleTimeout = time.Second
			})
			ctx := context.Background()

			login, err := engine.Login(ctx, "bob", secret, goGate.LoginOptions{})
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			if _, err := engine.Resolve(ctx, login.SessionID); err != nil {
				t.Fatalf("Resolve: %v", err)
			}

			time.Sleep(1500 * time.Millisecond)
			if _, err := engine.Resolve(ctx, login.SessionID); err == nil {
				t.Fatal("session outlived its idle window")
			}
		})
	}
}
