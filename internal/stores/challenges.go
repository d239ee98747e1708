package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound  = errors.New("mfa challenge not found")
	ErrChallengeExpired   = errors.New("mfa challenge expired")
	ErrChallengeUsed      = errors.New("mfa challenge already used")
	ErrChallengeExhausted = errors.New("mfa challenge attempts exhausted")
	ErrChallengeBackend   = errors.New("mfa challenge backend unavailable")
)

// challengeRetention keeps used and expired records around a little past their
// expiry so late replays still see them.
const challengeRetention = time.Minute

// Challenge is a pending second-factor prompt.
type Challenge struct {
	ID        string
	UserID    string
	Method    string
	CodeHash  string
	ExpiresAt time.Time
	Used      bool
	Attempts  int
}

// Matches compares code against the stored digest in constant time. A
// challenge without a code (TOTP) never matches.
func (c *Challenge) Matches(code string) bool {
	if c.CodeHash == "" || code == "" {
		return false
	}
	want, err := hex.DecodeString(c.CodeHash)
	if err != nil {
		return false
	}
	got := codeDigest(c.ID, code)
	return subtle.ConstantTimeCompare(want, got[:]) == 1
}

// HashChallengeCode returns the digest stored for code on challenge id.
func HashChallengeCode(id, code string) string {
	sum := codeDigest(id, code)
	return hex.EncodeToString(sum[:])
}

func codeDigest(id, code string) [32]byte {
	return sha256.Sum256([]byte(id + "\x00" + code))
}

// markUsedScript flips used exactly once.
//
// KEYS[1] challenge; ARGV[1] now unix ms
// returns 1 marked, 0 missing, -1 already used, -2 expired
var markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
	return -1
end
if tonumber(redis.call('HGET', KEYS[1], 'exp')) <= tonumber(ARGV[1]) then
	return -2
end
redis.call('HSET', KEYS[1], 'used', '1')
return 1
`)

// releaseScript returns a used challenge to the pending state.
//
// KEYS[1] challenge
// returns 1 released, 0 missing or not used
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') ~= '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '0')
return 1
`)

// challengeFailureScript counts a wrong code and drops the challenge at the limit.
//
// KEYS[1] challenge; ARGV[1] max attempts
// returns attempts so far, 0 when missing, -1 when the challenge was deleted
var challengeFailureScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n >= tonumber(ARGV[1]) then
	redis.call('DEL', KEYS[1])
	return -1
end
return n
`)

type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":ch:" + id
}

// Create persists c. The key outlives ExpiresAt by a short retention period.
func (s *ChallengeStore) Create(ctx context.Context, c *Challenge, now time.Time) error {
	if c == nil || c.ID == "" || c.UserID == "" {
		return errors.New("stores: invalid challenge")
	}
	key := s.key(c.ID)
	ttl := c.ExpiresAt.Sub(now) + challengeRetention

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"uid", c.UserID,
			"method", c.Method,
			"code", c.CodeHash,
			"exp", strconv.FormatInt(c.ExpiresAt.UnixMilli(), 10),
			"used", "0",
			"attempts", "0",
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads a live challenge. Used and expired challenges are reported with
// their own errors; callers usually treat all of them alike.
func (s *ChallengeStore) Get(ctx context.Context, id string, now time.Time) (*Challenge, error) {
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}

	c, err := decodeChallenge(id, fields)
	if err != nil {
		return nil, err
	}
	if c.Used {
		return nil, ErrChallengeUsed
	}
	if !now.Before(c.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// MarkUsed transitions a live challenge to used. Only one caller succeeds.
func (s *ChallengeStore) MarkUsed(ctx context.Context, id string, now time.Time) error {
	res, err := markUsedScript.Run(ctx, s.redis, []string{s.key(id)}, now.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return ErrChallengeUsed
	case -2:
		return ErrChallengeExpired
	default:
		return ErrChallengeNotFound
	}
}

// Release undoes MarkUsed for the caller that won it, when the login could not
// be completed after all. Expiry is left unchanged.
func (s *ChallengeStore) Release(ctx context.Context, id string) error {
	res, err := releaseScript.Run(ctx, s.redis, []string{s.key(id)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if res == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// RecordFailure counts a wrong code. When the count reaches maxAttempts the
// challenge is deleted and ErrChallengeExhausted is returned.
func (s *ChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	res, err := challengeFailureScript.Run(ctx, s.redis, []string{s.key(id)}, maxAttempts).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	switch {
	case res == 0:
		return 0, ErrChallengeNotFound
	case res < 0:
		return maxAttempts, ErrChallengeExhausted
	default:
		return int(res), nil
	}
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func decodeChallenge(id string, f map[string]string) (*Challenge, error) {
	expMs, err := strconv.ParseInt(f["exp"], 10, 64)
	if err != nil || f["uid"] == "" {
		return nil, fmt.Errorf("%w: corrupt challenge record", ErrChallengeBackend)
	}
	attempts, _ := strconv.Atoi(f["attempts"])
	return &Challenge{
		ID:        id,
		UserID:    f["uid"],
		Method:    f["method"],
		CodeHash:  f["code"],
		ExpiresAt: time.UnixMilli(expMs),
		Used:      f["used"] == "1",
		Attempts:  attempts,
	}, nil
}
