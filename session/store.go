package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/MrEthical07/goGate/internal"
)

const (
	// DefaultIdleTimeout is the sliding inactivity window.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultAbsoluteTimeout caps a session's lifetime regardless of activity.
	DefaultAbsoluteTimeout = 12 * time.Hour

	minTTL = time.Millisecond
)

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Options configures a [Store].
type Options struct {
	// Prefix namespaces every key. Empty selects "gg".
	Prefix string
	// IdleTimeout expires a session after this long without a Resolve. Zero
	// selects DefaultIdleTimeout; negative disables idle expiry.
	IdleTimeout time.Duration
	// AbsoluteTimeout bounds the session's lifetime. Zero selects
	// DefaultAbsoluteTimeout.
	AbsoluteTimeout time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Store persists sessions in Redis. Each session is one key holding the
// encoded record; a per-principal set indexes session IDs for bulk logout.
// Expiry is enforced both by Redis TTLs and by checking timestamps on read.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	idle     time.Duration
	absolute time.Duration
	now      func() time.Time
}

// NewStore returns a Store over client.
func NewStore(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "gg"
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.AbsoluteTimeout <= 0 {
		opts.AbsoluteTimeout = DefaultAbsoluteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		redis:    client,
		prefix:   opts.Prefix,
		idle:     opts.IdleTimeout,
		absolute: opts.AbsoluteTimeout,
		now:      opts.Now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":p:" + principalID
}

// Create persists a new authenticated session. ID, state and timestamps are
// assigned by the store; the caller supplies the principal fields.
//
//	Performance: 1 MULTI/EXEC (SET + SADD + PEXPIRE).
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess.PrincipalID == "" {
		return oops.In("session").Code("SESSION_INVALID").
			Errorf("session requires a principal")
	}

	id, err := internal.NewSessionID()
	if err != nil {
		return oops.In("session").Code("SESSION_ENTROPY").Wrap(err)
	}

	now := s.now()
	sess.ID = id
	sess.State = StateAuthenticated
	sess.CreatedAt = now
	sess.LastSeenAt = now
	sess.ExpiresAt = now.Add(s.absolute)

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := s.ttlFor(sess, now)
	principalKey := s.principalKey(sess.PrincipalID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), data, ttl)
		pipe.SAdd(ctx, principalKey, id)
		pipe.PExpire(ctx, principalKey, s.absolute)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}

	return nil
}

// Get returns the session if it exists, is authenticated, and neither its
// idle nor absolute expiry has elapsed. Dead sessions are evicted and
// reported as [ErrNotFound]. Get does not extend the idle window.
//
//	Performance: 1 Redis GET (+1 EVALSHA on eviction).
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if !internal.ValidSessionID(sessionID) {
		return nil, ErrNotFound
	}

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	sess, err := Decode(data)
	if err != nil {
		// an unreadable record can never become valid again
		if delErr := s.redis.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return nil, unavailable(delErr)
		}
		return nil, ErrNotFound
	}
	sess.ID = sessionID

	if !s.alive(sess, s.now()) {
		if _, err := s.deleteSessionAndIndex(ctx, sess.PrincipalID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// Resolve is Get followed by sliding the idle window forward. A session
// deleted concurrently is not resurrected.
//
//	Performance: 1 Redis GET + 1 SET XX.
func (s *Store) Resolve(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess.LastSeenAt = now
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	err = s.redis.SetArgs(ctx, s.key(sessionID), data, redis.SetArgs{
		Mode: "XX",
		TTL:  s.ttlFor(sess, now),
	}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	return sess, nil
}

// Delete removes a session. It reports whether the session existed and is
// idempotent.
//
//	Performance: 1 Redis GET + 1 EVALSHA.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	if !internal.ValidSessionID(sessionID) {
		return false, nil
	}

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}

	sess, err := Decode(data)
	if err != nil {
		n, delErr := s.redis.Del(ctx, s.key(sessionID)).Result()
		if delErr != nil {
			return false, unavailable(delErr)
		}
		return n == 1, nil
	}

	return s.deleteSessionAndIndex(ctx, sess.PrincipalID, sessionID)
}

// DeleteAllForPrincipal removes every indexed session of a principal and
// returns how many existed. A session created concurrently with the call may
// survive it.
//
//	Performance: 1 SMEMBERS + 1 MULTI/EXEC.
func (s *Store) DeleteAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	principalKey := s.principalKey(principalID)

	ids, err := s.redis.SMembers(ctx, principalKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable(err)
	}

	dels := make([]*redis.IntCmd, 0, len(ids))
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			dels = append(dels, pipe.Del(ctx, s.key(id)))
		}
		pipe.Del(ctx, principalKey)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}

	removed := 0
	for _, cmd := range dels {
		removed += int(cmd.Val())
	}
	return removed, nil
}

// ActiveSessionIDs returns the indexed session IDs of a principal. Entries
// may refer to sessions that have since expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return ids, nil
}

// Ping checks Redis availability and returns the round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func (s *Store) alive(sess *Session, now time.Time) bool {
	if sess.State != StateAuthenticated {
		return false
	}
	if !now.Before(sess.ExpiresAt) {
		return false
	}
	if s.idle > 0 && !now.Before(sess.LastSeenAt.Add(s.idle)) {
		return false
	}
	return true
}

func (s *Store) ttlFor(sess *Session, now time.Time) time.Duration {
	ttl := sess.ExpiresAt.Sub(now)
	if s.idle > 0 {
		if idleLeft := sess.LastSeenAt.Add(s.idle).Sub(now); idleLeft < ttl {
			ttl = idleLeft
		}
	}
	if ttl < minTTL {
		ttl = minTTL
	}
	return ttl
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, principalID, sessionID string) (bool, error) {
	n, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.principalKey(principalID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func unavailable(err error) error {
	return oops.In("session").
		Code("SESSION_STORE_UNAVAILABLE").
		Wrapf(ErrRedisUnavailable, "%v", err)
}
