package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport faults from the guard.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Config holds guard tuning. The lockout threshold must sit strictly above
// the per-user soft limit: soft limiting throttles a window, lockout is
// the escalation for sustained failure. Prefix namespaces all keys so
// separate deployments can share one Redis.
type Config struct {
	Prefix           string
	UserSoftLimit    int
	IPSoftLimit      int
	Window           time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// Both counters and the lockout flag move in one step so that two racing
// failures cannot miss the threshold between a read and a write.
const recordFailureScript = `
local user_count = redis.call("INCR", KEYS[1])
if user_count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if ARGV[4] == "1" then
  local ip_count = redis.call("INCR", KEYS[3])
  if ip_count == 1 then
    redis.call("PEXPIRE", KEYS[3], ARGV[1])
  end
end
local locked = 0
if user_count >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
  locked = 1
end
return {user_count, locked}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// Guard enforces the dual-axis failure budget and account lockout.
type Guard struct {
	redis  redis.UniversalClient
	config Config
}

// NewGuard validates cfg and returns a [Guard].
func NewGuard(redisClient redis.UniversalClient, cfg Config) (*Guard, error) {
	if cfg.UserSoftLimit <= 0 || cfg.IPSoftLimit <= 0 {
		return nil, errors.New("soft limits must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("rate-limit window must be > 0")
	}
	if cfg.LockoutThreshold <= cfg.UserSoftLimit {
		return nil, errors.New("lockout threshold must be strictly above the user soft limit")
	}
	if cfg.LockoutDuration <= 0 {
		return nil, errors.New("lockout duration must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ag"
	}

	return &Guard{redis: redisClient, config: cfg}, nil
}

func (g *Guard) userKey(username string) string {
	return g.config.Prefix + "c:u:" + username
}

func (g *Guard) ipKey(ip string) string {
	return g.config.Prefix + "c:ip:" + ip
}

func (g *Guard) lockKey(username string) string {
	return g.config.Prefix + "l:" + username
}

// RecordFailure increments both counters for a failed attempt, starting
// the window TTL on first increment, and sets the lockout flag when the
// per-user count reaches the lockout threshold. Returns true if this
// failure locked the account.
func (g *Guard) RecordFailure(ctx context.Context, username, ip string) (bool, error) {
	hasIP := "0"
	ipK := g.ipKey("-")
	if ip != "" {
		hasIP = "1"
		ipK = g.ipKey(ip)
	}

	result, err := recordFailureLua.Run(
		ctx,
		g.redis,
		[]string{g.userKey(username), g.lockKey(username), ipK},
		g.config.Window.Milliseconds(),
		g.config.LockoutThreshold,
		g.config.LockoutDuration.Milliseconds(),
		hasIP,
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) < 2 {
		return false, fmt.Errorf("%w: invalid record-failure script response", ErrRedisUnavailable)
	}
	locked, ok := parts[1].(int64)
	if !ok {
		return false, fmt.Errorf("%w: invalid record-failure script status", ErrRedisUnavailable)
	}

	return locked == 1, nil
}

// IsLockedOut reports whether the account currently carries a lockout flag.
func (g *Guard) IsLockedOut(ctx context.Context, username string) (bool, error) {
	n, err := g.redis.Exists(ctx, g.lockKey(username)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// LockoutTTL returns the remaining lockout duration, or zero when the
// account is not locked.
func (g *Guard) LockoutTTL(ctx context.Context, username string) (time.Duration, error) {
	ttl, err := g.redis.PTTL(ctx, g.lockKey(username)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// IsRateLimited reports whether either counter has reached its soft
// threshold in the current window.
func (g *Guard) IsRateLimited(ctx context.Context, username, ip string) (bool, error) {
	count, err := g.counter(ctx, g.userKey(username))
	if err != nil {
		return false, err
	}
	if count >= int64(g.config.UserSoftLimit) {
		return true, nil
	}

	if ip != "" {
		count, err = g.counter(ctx, g.ipKey(ip))
		if err != nil {
			return false, err
		}
		if count >= int64(g.config.IPSoftLimit) {
			return true, nil
		}
	}

	return false, nil
}

// WindowTTL returns the longest remaining window among the two counters,
// for surfacing a retry-after on soft-limited requests.
func (g *Guard) WindowTTL(ctx context.Context, username, ip string) (time.Duration, error) {
	ttl, err := g.keyTTL(ctx, g.userKey(username))
	if err != nil {
		return 0, err
	}
	if ip != "" {
		ipTTL, err := g.keyTTL(ctx, g.ipKey(ip))
		if err != nil {
			return 0, err
		}
		if ipTTL > ttl {
			ttl = ipTTL
		}
	}
	return ttl, nil
}

// ClearFailures deletes both counters after a successful login. An active
// lockout is deliberately left in place: it runs its full duration even if
// a correct password shows up mid-lockout, to resist interleaved
// credential stuffing.
func (g *Guard) ClearFailures(ctx context.Context, username, ip string) error {
	keys := []string{g.userKey(username)}
	if ip != "" {
		keys = append(keys, g.ipKey(ip))
	}
	if err := g.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FailureCount returns the account's current window counter. Missing keys
// read as zero and do not reveal account existence.
func (g *Guard) FailureCount(ctx context.Context, username string) (int, error) {
	count, err := g.counter(ctx, g.userKey(username))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (g *Guard) counter(ctx context.Context, key string) (int64, error) {
	count, err := g.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func (g *Guard) keyTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := g.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
