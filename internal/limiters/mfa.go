package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMfaMaxAttempts = 5
	defaultMfaCooldown    = 5 * time.Minute
)

var (
	ErrMfaRateLimited = errors.New("mfa code attempts exhausted")
	ErrMfaUnavailable = errors.New("mfa limiter unavailable")
)

var incrWithTTLScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// MfaCodeConfig bounds wrong MFA codes submitted outside a challenge: the
// bare-code login path and MFA management calls.
type MfaCodeConfig struct {
	Prefix      string
	MaxAttempts int
	Cooldown    time.Duration
}

// MfaCodeLimiter counts wrong codes per user in a fixed window.
type MfaCodeLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// NewMfaCodeLimiter falls back to 5 attempts per 5 minutes for zero fields.
func NewMfaCodeLimiter(redisClient redis.UniversalClient, cfg MfaCodeConfig) *MfaCodeLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMfaMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultMfaCooldown
	}
	return &MfaCodeLimiter{redis: redisClient, prefix: cfg.Prefix, maxAttempts: int64(max), cooldown: cd}
}

func (l *MfaCodeLimiter) key(userID string) string {
	return l.prefix + ":mfa:att:" + userID
}

// Check fails with ErrMfaRateLimited once the window's budget is spent.
func (l *MfaCodeLimiter) Check(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMfaUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrMfaRateLimited
	}
	return nil
}

func (l *MfaCodeLimiter) RecordFailure(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	_, err := incrWithTTLScript.Run(ctx, l.redis, []string{l.key(userID)}, l.cooldown.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMfaUnavailable, err)
	}
	return nil
}

func (l *MfaCodeLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMfaUnavailable, err)
	}
	return nil
}
