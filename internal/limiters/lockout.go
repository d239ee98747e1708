package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds the failed-login policy.
type LockoutConfig struct {
	Prefix    string
	Threshold int
	Duration  time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// recordFailureScript increments the counter, refreshes its window and, once
// the threshold is reached, writes the lock in the same step.
//
// KEYS[1] counter, KEYS[2] lock
// ARGV[1] window ms, ARGV[2] threshold, ARGV[3] lockedUntil unix ms
var recordFailureScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
if n >= tonumber(ARGV[2]) then
	redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[1])
	return {n, 1}
end
return {n, 0}
`)

// LockoutLimiter tracks consecutive failed logins per username and locks the
// username once the threshold is reached within the window.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Both keys of a username carry the same hash tag so the failure script and
// Reset stay in one cluster slot.
func (l *LockoutLimiter) counterKey(username string) string {
	return l.config.Prefix + ":lo:{" + normalizeUsername(username) + "}:c"
}

func (l *LockoutLimiter) lockKey(username string) string {
	return l.config.Prefix + ":lo:{" + normalizeUsername(username) + "}:u"
}

// Check returns the lock expiry when username is locked at now. A lock whose
// expiry has passed is cleared together with its counter.
func (l *LockoutLimiter) Check(ctx context.Context, username string, now time.Time) (time.Time, bool, error) {
	raw, err := l.redis.Get(ctx, l.lockKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: corrupt lock value %q", ErrLockoutUnavailable, raw)
	}
	until := time.UnixMilli(ms)
	if until.After(now) {
		return until, true, nil
	}

	if err := l.Reset(ctx, username); err != nil {
		return time.Time{}, false, err
	}
	return time.Time{}, false, nil
}

// RecordFailure counts one failed credential check. locked reports whether
// this failure reached the threshold.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, username string, now time.Time) (count int64, locked bool, err error) {
	until := now.Add(l.config.Duration).UnixMilli()
	res, err := recordFailureScript.Run(ctx, l.redis,
		[]string{l.counterKey(username), l.lockKey(username)},
		l.config.Duration.Milliseconds(), l.config.Threshold, until,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}
	return res[0], res[1] == 1, nil
}

// Reset clears the counter and any lock for username.
func (l *LockoutLimiter) Reset(ctx context.Context, username string) error {
	if err := l.redis.Del(ctx, l.counterKey(username), l.lockKey(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current consecutive failure count.
func (l *LockoutLimiter) FailureCount(ctx context.Context, username string) (int64, error) {
	n, err := l.redis.Get(ctx, l.counterKey(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return n, nil
}
