package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func seedChallenge(t *testing.T, s *ChallengeStore, now time.Time, code string) *Challenge {
	t.Helper()
	c := &Challenge{
		ID:        "c-1",
		UserID:    "u-1",
		Method:    "sms",
		ExpiresAt: now.Add(5 * time.Minute),
	}
	if code != "" {
		c.CodeHash = HashChallengeCode(c.ID, code)
	}
	if err := s.Create(context.Background(), c, now); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestChallengeCreateGetMatches(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewChallengeStore(rdb, "t")
	now := time.Unix(1_700_000_000, 0)
	seedChallenge(t, s, now, "123456")

	if mr.HGet("t:ch:c-1", "code") == "123456" {
		t.Fatal("code must not be stored in plaintext")
	}

	got, err := s.Get(context.Background(), "c-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u-1" || got.Method != "sms" || got.Used {
		t.Fatalf("unexpected challenge %+v", got)
	}
	if !got.Matches("123456") || got.Matches("654321") || got.Matches("") {
		t.Fatal("code matching is wrong")
	}
}

func TestChallengeExpiresAtBoundary(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewChallengeStore(rdb, "t")
	now := time.Unix(1_700_000_000, 0)
	seedChallenge(t, s, now, "123456")
	ctx := context.Background()

	if _, err := s.Get(ctx, "c-1", now.Add(5*time.Minute-time.Millisecond)); err != nil {
		t.Fatalf("challenge must be live before expiry: %v", err)
	}
	if _, err := s.Get(ctx, "c-1", now.Add(5*time.Minute)); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired at expiry, got %v", err)
	}
	if err := s.MarkUsed(ctx, "c-1", now.Add(301*time.Second)); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected MarkUsed to refuse expired challenge, got %v", err)
	}
}

func TestChallengeMarkUsedOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewChallengeStore(rdb, "t")
	now := time.Now()
	seedChallenge(t, s, now, "")
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MarkUsed(ctx, "c-1", now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if _, err := s.Get(ctx, "c-1", now); !errors.Is(err, ErrChallengeUsed) {
		t.Fatalf("expected ErrChallengeUsed, got %v", err)
	}
	if err := s.MarkUsed(ctx, "missing", now); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeReleaseReturnsToPending(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewChallengeStore(rdb, "t")
	now := time.Now()
	seedChallenge(t, s, now, "123456")
	ctx := context.Background()

	if err := s.Release(ctx, "c-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("pending challenge cannot be released, got %v", err)
	}
	if err := s.MarkUsed(ctx, "c-1", now); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := s.Release(ctx, "c-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := s.Get(ctx, "c-1", now); err != nil {
		t.Fatalf("released challenge must be live again: %v", err)
	}
	if err := s.MarkUsed(ctx, "c-1", now); err != nil {
		t.Fatalf("released challenge must be markable again: %v", err)
	}
	if err := s.Release(ctx, "missing"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeRecordFailureExhausts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewChallengeStore(rdb, "t")
	now := time.Now()
	seedChallenge(t, s, now, "123456")
	ctx := context.Background()

	for i := 1; i < 3; i++ {
		n, err := s.RecordFailure(ctx, "c-1", 3)
		if err != nil || n != i {
			t.Fatalf("failure %d: n=%d err=%v", i, n, err)
		}
	}
	if _, err := s.RecordFailure(ctx, "c-1", 3); !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("expected ErrChallengeExhausted, got %v", err)
	}
	if mr.Exists("t:ch:c-1") {
		t.Fatal("exhausted challenge must be deleted")
	}
	if _, err := s.RecordFailure(ctx, "c-1", 3); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeKeyTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewChallengeStore(rdb, "t")
	now := time.Now()
	seedChallenge(t, s, now, "1")

	mr.FastForward(5*time.Minute + challengeRetention + time.Second)
	if _, err := s.Get(context.Background(), "c-1", now); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}
