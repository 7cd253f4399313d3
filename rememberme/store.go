package rememberme

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusExpired  int64 = 1
	consumeStatusMismatch int64 = 2
	consumeStatusRotated  int64 = 3
)

// revoke_series removes a series, its principal index entry, and the device
// pointer if it still points at this series. extend only ever lengthens a
// key's TTL.
const revokeSeriesLua = `
local function revoke_series(prefix, series, principal, device)
  local n = redis.call("DEL", prefix .. ":rm:" .. series)
  redis.call("SREM", prefix .. ":rmp:" .. principal, series)
  local device_key = prefix .. ":rmd:" .. principal .. ":" .. device
  if redis.call("GET", device_key) == series then
    redis.call("DEL", device_key)
  end
  return n
end

local function extend(key, ttl)
  if redis.call("PTTL", key) < tonumber(ttl) then
    redis.call("PEXPIRE", key, ttl)
  end
end
`

const issueScript = revokeSeriesLua + `
local prefix = ARGV[1]
local series = ARGV[2]
local principal = ARGV[3]
local device = ARGV[6]
local ttl = ARGV[9]

local replaced = redis.call("GET", KEYS[3])
if replaced then
  revoke_series(prefix, replaced, principal, device)
end

redis.call("HSET", KEYS[1], "p", principal, "u", ARGV[4], "h", ARGV[5], "d", device, "i", ARGV[7], "e", ARGV[8])
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SET", KEYS[3], series, "PX", ttl)
redis.call("SADD", KEYS[2], series)
extend(KEYS[2], ttl)
return replaced or ""
`

const consumeScript = revokeSeriesLua + `
local prefix = ARGV[1]
local series = ARGV[2]
local provided = ARGV[3]
local next_hash = ARGV[4]
local now_ms = tonumber(ARGV[5])
local next_expiry = ARGV[6]
local ttl = ARGV[7]

local rec = redis.call("HMGET", KEYS[1], "p", "u", "d", "h", "i", "e")
local principal, username, device, hash, issued, expiry = rec[1], rec[2], rec[3], rec[4], rec[5], rec[6]
if not principal or not device or not hash or not expiry then
  redis.call("DEL", KEYS[1])
  return {0}
end

if tonumber(expiry) <= now_ms then
  revoke_series(prefix, series, principal, device)
  return {1}
end

if hash ~= provided then
  revoke_series(prefix, series, principal, device)
  return {2, principal, username or "", device}
end

redis.call("HSET", KEYS[1], "h", next_hash, "e", next_expiry)
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("PEXPIRE", prefix .. ":rmd:" .. principal .. ":" .. device, ttl)
extend(prefix .. ":rmp:" .. principal, ttl)
return {3, principal, username or "", device, issued or "0"}
`

const revokeOneScript = revokeSeriesLua + `
local rec = redis.call("HMGET", KEYS[1], "p", "d")
if not rec[1] or not rec[2] then
  return redis.call("DEL", KEYS[1])
end
return revoke_series(ARGV[1], ARGV[2], rec[1], rec[2])
`

const revokeDeviceScript = `
local series = redis.call("GET", KEYS[1])
if not series then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], series)
return redis.call("DEL", ARGV[1] .. ":rm:" .. series)
`

const revokeAllScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, series in ipairs(members) do
  local key = ARGV[1] .. ":rm:" .. series
  local device = redis.call("HGET", key, "d")
  n = n + redis.call("DEL", key)
  if device then
    local device_key = ARGV[1] .. ":rmd:" .. ARGV[2] .. ":" .. device
    if redis.call("GET", device_key) == series then
      redis.call("DEL", device_key)
    end
  end
end
redis.call("DEL", KEYS[1])
return n
`

var (
	issueLua        = redis.NewScript(issueScript)
	consumeLua      = redis.NewScript(consumeScript)
	revokeOneLua    = redis.NewScript(revokeOneScript)
	revokeDeviceLua = redis.NewScript(revokeDeviceScript)
	revokeAllLua    = redis.NewScript(revokeAllScript)
)

// Record is the persisted form of a remember-me token, minus its value.
type Record struct {
	Series      string
	PrincipalID string
	Username    string
	DeviceID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Store persists remember-me series in Redis. Each series is a hash holding
// the owner, the SHA-256 of the current value, and the expiry; a pointer key
// per (principal, device) enforces one live series per device, and a set per
// principal indexes series for bulk revocation. Every mutation is a single
// Lua script.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store over client. Empty prefix selects "gg".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gg"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) seriesKey(series string) string {
	return s.prefix + ":rm:" + series
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":rmp:" + principalID
}

func (s *Store) deviceKey(principalID, deviceID string) string {
	return s.prefix + ":rmd:" + principalID + ":" + deviceID
}

// Save stores rec with the digest of its value, replacing any series already
// bound to the same (principal, device). It returns the replaced series, or
// "" if there was none.
//
//	Performance: 1 EVALSHA.
func (s *Store) Save(ctx context.Context, rec Record, hash [32]byte, now time.Time) (string, error) {
	ttl := ttlMillis(rec.ExpiresAt, now)
	res, err := issueLua.Run(
		ctx,
		s.redis,
		[]string{s.seriesKey(rec.Series), s.principalKey(rec.PrincipalID), s.deviceKey(rec.PrincipalID, rec.DeviceID)},
		s.prefix,
		rec.Series,
		rec.PrincipalID,
		rec.Username,
		hash[:],
		rec.DeviceID,
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		ttl,
	).Text()
	if err != nil {
		return "", unavailable(err)
	}
	return res, nil
}

// Rotate atomically checks provided against the stored digest of series.
// On match the digest becomes next and the expiry moves to expiresAt. On
// mismatch the series is revoked and a [*TheftError] is returned. Absent or
// expired series yield [ErrInvalid].
//
//	Performance: 1 EVALSHA (compare-and-swap).
func (s *Store) Rotate(
	ctx context.Context,
	series string,
	provided, next [32]byte,
	now, expiresAt time.Time,
) (*Record, error) {
	result, err := consumeLua.Run(
		ctx,
		s.redis,
		[]string{s.seriesKey(series)},
		s.prefix,
		series,
		provided[:],
		next[:],
		now.UnixMilli(),
		expiresAt.UnixMilli(),
		ttlMillis(expiresAt, now),
	).Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(result) == 0 {
		return nil, unavailable(errBadReply)
	}

	code, ok := result[0].(int64)
	if !ok {
		return nil, unavailable(errBadReply)
	}

	switch code {
	case consumeStatusNotFound, consumeStatusExpired:
		return nil, ErrInvalid
	case consumeStatusMismatch:
		if len(result) < 4 {
			return nil, unavailable(errBadReply)
		}
		return nil, &TheftError{
			Series:      series,
			PrincipalID: replyString(result[1]),
			Username:    replyString(result[2]),
			DeviceID:    replyString(result[3]),
		}
	case consumeStatusRotated:
		if len(result) < 5 {
			return nil, unavailable(errBadReply)
		}
		issued, _ := strconv.ParseInt(replyString(result[4]), 10, 64)
		return &Record{
			Series:      series,
			PrincipalID: replyString(result[1]),
			Username:    replyString(result[2]),
			DeviceID:    replyString(result[3]),
			IssuedAt:    time.UnixMilli(issued),
			ExpiresAt:   time.UnixMilli(expiresAt.UnixMilli()),
		}, nil
	default:
		return nil, unavailable(errBadReply)
	}
}

// DeleteSeries revokes one series. It reports whether the series existed.
func (s *Store) DeleteSeries(ctx context.Context, series string) (bool, error) {
	n, err := revokeOneLua.Run(ctx, s.redis, []string{s.seriesKey(series)}, s.prefix, series).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// DeleteDevice revokes the series bound to (principalID, deviceID).
func (s *Store) DeleteDevice(ctx context.Context, principalID, deviceID string) (bool, error) {
	n, err := revokeDeviceLua.Run(
		ctx,
		s.redis,
		[]string{s.deviceKey(principalID, deviceID), s.principalKey(principalID)},
		s.prefix,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// DeleteAllForPrincipal revokes every series of principalID and returns how
// many existed.
func (s *Store) DeleteAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	n, err := revokeAllLua.Run(ctx, s.redis, []string{s.principalKey(principalID)}, s.prefix, principalID).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Ping checks Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

var errBadReply = oops.Errorf("unexpected script reply")

func ttlMillis(expiresAt, now time.Time) int64 {
	ms := expiresAt.Sub(now).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func unavailable(err error) error {
	return oops.In("rememberme").
		Code("REMEMBERME_STORE_UNAVAILABLE").
		Wrapf(ErrRedisUnavailable, "%v", err)
}
