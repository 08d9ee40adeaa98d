package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a refresh token matches neither a live
	// record nor a tombstone. Unknown and long-expired tokens are
	// indistinguishable here; neither is an attack signal.
	ErrNotFound = errors.New("refresh session not found")

	// ErrReplayed is returned when a refresh token hits a tombstone: the
	// token was already consumed by an earlier rotation and is being
	// presented again. By the time Consume returns this error the whole
	// family has been revoked.
	ErrReplayed = errors.New("refresh token replayed")

	// ErrRedisUnavailable wraps every Redis transport fault so callers can
	// separate infrastructure problems from session outcomes.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// ReuseError carries the revoked family alongside [ErrReplayed].
type ReuseError struct {
	FamilyID string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("refresh token replayed, family %s revoked", e.FamilyID)
}

func (e *ReuseError) Unwrap() error { return ErrReplayed }

// Record is one live refresh session, stored under the hash of its raw
// token. FamilyID is shared by every token descending from one login.
type Record struct {
	UserID   string
	Username string
	FamilyID string
}

const (
	consumeStatusNotFound int64 = 0
	consumeStatusReplayed int64 = 1
	consumeStatusConsumed int64 = 2
)

// Read-and-delete the record and write the tombstone as one step. Two
// concurrent consumers of the same token must not both see the record:
// exactly one gets status 2, the other finds the tombstone.
const consumeScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  local fam = redis.call("GET", KEYS[2])
  if fam then
    return {1, fam}
  end
  return {0}
end
local uname = redis.call("HGET", KEYS[1], "uname")
local fam = redis.call("HGET", KEYS[1], "fam")
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], fam, "PX", ARGV[1])
return {2, uid, uname, fam}
`

var consumeLua = redis.NewScript(consumeScript)

const revokeTokenScript = `
local fam = redis.call("HGET", KEYS[1], "fam")
if not fam then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. fam, ARGV[2])
return 1
`

var revokeTokenLua = redis.NewScript(revokeTokenScript)

// Store is the Redis-backed refresh-session store. All cross-request state
// lives in Redis; a Store holds no session data in process memory.
type Store struct {
	redis        redis.UniversalClient
	prefix       string
	sessionTTL   time.Duration
	tombstoneTTL time.Duration
}

// NewStore creates a [Store]. prefix namespaces all keys; sessionTTL is
// the refresh-session lifetime and tombstoneTTL the replay-detection
// window left behind by each rotation.
func NewStore(redisClient redis.UniversalClient, prefix string, sessionTTL, tombstoneTTL time.Duration) (*Store, error) {
	if sessionTTL <= 0 {
		return nil, errors.New("session TTL must be > 0")
	}
	// Redis PX takes whole milliseconds; anything shorter would round to
	// an invalid zero expiry in the consume script.
	if tombstoneTTL < time.Millisecond || tombstoneTTL >= sessionTTL {
		return nil, errors.New("tombstone TTL must be at least 1ms and below the session TTL")
	}
	if prefix == "" {
		prefix = "ag"
	}

	return &Store{
		redis:        redisClient,
		prefix:       prefix,
		sessionTTL:   sessionTTL,
		tombstoneTTL: tombstoneTTL,
	}, nil
}

func (s *Store) recordKey(hash string) string {
	return s.prefix + "r:" + hash
}

func (s *Store) tombstoneKey(hash string) string {
	return s.prefix + "t:" + hash
}

func (s *Store) familyKey(familyID string) string {
	return s.prefix + "f:" + familyID
}

func (s *Store) familyKeyPrefix() string {
	return s.prefix + "f:"
}

// Issue generates a new raw refresh token and stores its record. An empty
// familyID starts a new family whose id is the first token's hash; a
// non-empty familyID propagates an existing family through a rotation.
// The raw token is returned to be shown to the client exactly once.
func (s *Store) Issue(ctx context.Context, userID, username, familyID string) (string, string, error) {
	raw, err := NewRawToken()
	if err != nil {
		return "", "", err
	}
	hash := HashToken(raw)
	if familyID == "" {
		familyID = hash
	}

	recordKey := s.recordKey(hash)
	familyKey := s.familyKey(familyID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKey, "uid", userID, "uname", username, "fam", familyID)
		pipe.Expire(ctx, recordKey, s.sessionTTL)
		pipe.SAdd(ctx, familyKey, hash)
		pipe.Expire(ctx, familyKey, s.sessionTTL)
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return raw, hash, nil
}

// Consume redeems a raw refresh token: it atomically deletes the record
// and writes a tombstone under the same hash, so a token can be redeemed
// at most once regardless of concurrent callers. A tombstone hit revokes
// the whole family and fails with [ErrReplayed]; an unknown hash fails
// with [ErrNotFound].
func (s *Store) Consume(ctx context.Context, rawToken string) (*Record, error) {
	hash := HashToken(rawToken)

	result, err := consumeLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(hash), s.tombstoneKey(hash)},
		s.tombstoneTTL.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid consume script response", ErrRedisUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid consume script status", ErrRedisUnavailable)
	}

	switch status {
	case consumeStatusNotFound:
		return nil, ErrNotFound

	case consumeStatusReplayed:
		familyID, err := scriptString(parts, 1)
		if err != nil {
			return nil, err
		}
		if err := s.RevokeFamily(ctx, familyID); err != nil {
			return nil, err
		}
		return nil, &ReuseError{FamilyID: familyID}

	case consumeStatusConsumed:
		userID, err := scriptString(parts, 1)
		if err != nil {
			return nil, err
		}
		username, err := scriptString(parts, 2)
		if err != nil {
			return nil, err
		}
		familyID, err := scriptString(parts, 3)
		if err != nil {
			return nil, err
		}
		return &Record{UserID: userID, Username: username, FamilyID: familyID}, nil

	default:
		return nil, fmt.Errorf("%w: unknown consume script status %d", ErrRedisUnavailable, status)
	}
}

// RevokeFamily deletes every record and tombstone tagged with familyID,
// plus the family index itself.
//
// The member read and the deletes are separate steps. A rotation racing
// this call can add one member after the read; that straggler is caught by
// the tombstone its own next rotation leaves, or expires with the session
// TTL. Same trade-off as bulk logout in the reference deployment.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	familyKey := s.familyKey(familyID)

	hashes, err := s.redis.SMembers(ctx, familyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(hashes)*2+1)
	for _, hash := range hashes {
		keys = append(keys, s.recordKey(hash), s.tombstoneKey(hash))
	}
	keys = append(keys, familyKey)

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// RevokeToken deletes the single record for rawToken (logout). No
// tombstone is written: an intentional logout is not a replay signal.
// Revoking an unknown token is a no-op.
func (s *Store) RevokeToken(ctx context.Context, rawToken string) error {
	hash := HashToken(rawToken)

	err := revokeTokenLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(hash)},
		s.familyKeyPrefix(),
		hash,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func scriptString(parts []interface{}, idx int) (string, error) {
	if idx >= len(parts) {
		return "", fmt.Errorf("%w: short consume script response", ErrRedisUnavailable)
	}
	switch v := parts[idx].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("%w: invalid consume script payload", ErrRedisUnavailable)
	}
}
