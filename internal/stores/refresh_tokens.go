package stores

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshExpired  = errors.New("refresh token expired")
	ErrRefreshRevoked  = errors.New("refresh token revoked")
	ErrRefreshBackend  = errors.New("refresh token backend unavailable")
)

const refreshTokenBytes = 32

const (
	rotateStatusRotated  = 1
	rotateStatusNotFound = 0
	rotateStatusRevoked  = -1
	rotateStatusExpired  = -2
)

// RefreshRecord is the server-side state of one refresh token.
type RefreshRecord struct {
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
}

// rotateRefreshLua revokes the presented token and stores its successor in a
// single step.
//
// KEYS[1] old, KEYS[2] new, KEYS[3] user index
// ARGV[1] now ms, ARGV[2] new exp ms, ARGV[3] ttl ms, ARGV[4] old digest, ARGV[5] new digest
var rotateRefreshLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'rev') == '1' then
	return -1
end
if tonumber(redis.call('HGET', KEYS[1], 'exp')) <= tonumber(ARGV[1]) then
	return -2
end
local uid = redis.call('HGET', KEYS[1], 'uid')
redis.call('HSET', KEYS[1], 'rev', '1')
redis.call('HSET', KEYS[2], 'uid', uid, 'exp', ARGV[2], 'rev', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[3])
redis.call('SREM', KEYS[3], ARGV[4])
redis.call('SADD', KEYS[3], ARGV[5])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
return 1
`)

// revokeRefreshLua marks a token revoked. Revoking twice still reports 1.
var revokeRefreshLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'rev', '1')
return 1
`)

// revokeAllLua revokes every token in a user's index and drops the index.
// The caller declares the token keys it read from the index; if the index
// gained a member since, nothing is written and -1 asks for a retry.
//
// KEYS[1] user index, KEYS[2..] token keys; ARGV[1] token key prefix
var revokeAllLua = redis.NewScript(`
local declared = {}
for i = 2, #KEYS do
	declared[KEYS[i]] = true
end
for _, d in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	if not declared[ARGV[1] .. d] then
		return -1
	end
end
local n = 0
for i = 2, #KEYS do
	local k = KEYS[i]
	if redis.call('EXISTS', k) == 1 and redis.call('HGET', k, 'rev') ~= '1' then
		redis.call('HSET', k, 'rev', '1')
		n = n + 1
	end
end
redis.call('DEL', KEYS[1])
return n
`)

// revokeAllAttempts bounds retries when logins keep adding tokens while a
// user's tokens are being revoked.
const revokeAllAttempts = 5

// RefreshStore persists opaque refresh tokens by digest. Revoked tokens are
// kept until their TTL so a replay is recognized as revoked.
//
// Tokens carry no routing information, so every refresh key shares the {rt}
// hash tag. Rotation and the user index then stay in one cluster slot.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshStore(redisClient redis.UniversalClient, prefix string) *RefreshStore {
	return &RefreshStore{redis: redisClient, prefix: prefix}
}

// NewRefreshToken returns 32 random bytes, base64url encoded without padding.
func NewRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *RefreshStore) tokenPrefix() string {
	return s.prefix + ":{rt}:t:"
}

func (s *RefreshStore) key(token string) string {
	return s.tokenPrefix() + digest(token)
}

func (s *RefreshStore) userKey(userID string) string {
	return s.prefix + ":{rt}:u:" + userID
}

// Save stores a fresh token for userID that expires at now+ttl.
func (s *RefreshStore) Save(ctx context.Context, token, userID string, now time.Time, ttl time.Duration) error {
	if token == "" || userID == "" || ttl <= 0 {
		return errors.New("stores: invalid refresh token record")
	}
	key := s.key(token)
	exp := now.Add(ttl).UnixMilli()

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "uid", userID, "exp", strconv.FormatInt(exp, 10), "rev", "0")
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(userID), digest(token))
		pipe.PExpire(ctx, s.userKey(userID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	return nil
}

// Get returns the record of a usable token.
func (s *RefreshStore) Get(ctx context.Context, token string, now time.Time) (*RefreshRecord, error) {
	if token == "" {
		return nil, ErrRefreshNotFound
	}
	fields, err := s.redis.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrRefreshNotFound
	}

	expMs, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil || fields["uid"] == "" {
		return nil, fmt.Errorf("%w: corrupt refresh record", ErrRefreshBackend)
	}
	rec := &RefreshRecord{
		UserID:    fields["uid"],
		ExpiresAt: time.UnixMilli(expMs),
		Revoked:   fields["rev"] == "1",
	}
	if rec.Revoked {
		return nil, ErrRefreshRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, ErrRefreshExpired
	}
	return rec, nil
}

// Rotate revokes oldToken and stores newToken for the same user. Exactly one
// of several concurrent rotations of the same token succeeds.
func (s *RefreshStore) Rotate(ctx context.Context, oldToken, newToken, userID string, now time.Time, ttl time.Duration) error {
	res, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(oldToken), s.key(newToken), s.userKey(userID)},
		now.UnixMilli(), now.Add(ttl).UnixMilli(), ttl.Milliseconds(), digest(oldToken), digest(newToken),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	switch res {
	case rotateStatusRotated:
		return nil
	case rotateStatusRevoked:
		return ErrRefreshRevoked
	case rotateStatusExpired:
		return ErrRefreshExpired
	default:
		return ErrRefreshNotFound
	}
}

// Revoke marks token revoked and reports whether it was known.
func (s *RefreshStore) Revoke(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := revokeRefreshLua.Run(ctx, s.redis, []string{s.key(token)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	return res == 1, nil
}

// RevokeAllForUser revokes every live token of userID and returns the count.
func (s *RefreshStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	index := s.userKey(userID)
	for attempt := 0; attempt < revokeAllAttempts; attempt++ {
		digests, err := s.redis.SMembers(ctx, index).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRefreshBackend, err)
		}
		keys := make([]string, 0, len(digests)+1)
		keys = append(keys, index)
		for _, d := range digests {
			keys = append(keys, s.tokenPrefix()+d)
		}

		res, err := revokeAllLua.Run(ctx, s.redis, keys, s.tokenPrefix()).Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRefreshBackend, err)
		}
		if res >= 0 {
			return int(res), nil
		}
	}
	return 0, fmt.Errorf("%w: token index for %s kept changing", ErrRefreshBackend, userID)
}
