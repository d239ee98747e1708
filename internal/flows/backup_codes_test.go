package flows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// plainDeps hashes codes as "h:<code>" so tests can reason about hashes.
func plainDeps(store *memoryCodes) BackupCodeDeps {
	return BackupCodeDeps{
		Hash:   func(s string) (string, error) { return "h:" + s, nil },
		Verify: func(plain, hash string) (bool, error) { return hash == "h:"+plain, nil },
		Remove: store.remove,
	}
}

type memoryCodes struct {
	mu     sync.Mutex
	hashes []string
}

func (m *memoryCodes) remove(_ context.Context, _ string, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.hashes {
		if h == hash {
			m.hashes = append(m.hashes[:i], m.hashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryCodes) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hashes...)
}

func TestGenerateBackupCodesShape(t *testing.T) {
	store := &memoryCodes{}
	plain, hashes, err := GenerateBackupCodes(8, plainDeps(store))
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(plain) != 8 || len(hashes) != 8 {
		t.Fatalf("expected 8 codes, got %d/%d", len(plain), len(hashes))
	}
	seen := map[string]bool{}
	for i, code := range plain {
		if len(code) != BackupCodeLength || filterBackupCode(code) != code {
			t.Fatalf("code %q is not 8 uppercase alphanumerics", code)
		}
		if hashes[i] != "h:"+code {
			t.Fatalf("hash %d does not belong to its code", i)
		}
		seen[code] = true
	}
	if len(seen) != 8 {
		t.Fatal("expected distinct codes")
	}
}

func TestNewBackupCodeFallsBackWhenDerivationIsShort(t *testing.T) {
	// 0xFB 0xEF 0xBE encodes to "++++", which filters to nothing.
	shortBytes := func(b []byte) error {
		for i := range b {
			b[i] = []byte{0xFB, 0xEF, 0xBE}[i%3]
		}
		return nil
	}
	var calls int
	index := func(n int) (int, error) {
		calls++
		return 25, nil
	}

	code, err := NewBackupCode(shortBytes, index)
	if err != nil {
		t.Fatalf("NewBackupCode: %v", err)
	}
	if code != "ZZZZZZZZ" || calls != BackupCodeLength {
		t.Fatalf("expected fallback code, got %q after %d calls", code, calls)
	}

	failing := func([]byte) error { return errors.New("no entropy") }
	if code, err := NewBackupCode(failing, index); err != nil || len(code) != BackupCodeLength {
		t.Fatalf("expected fallback when bytes fail, code=%q err=%v", code, err)
	}
}

func TestConsumeBackupCodeIsSingleUse(t *testing.T) {
	store := &memoryCodes{}
	deps := plainDeps(store)
	plain, hashes, err := GenerateBackupCodes(8, deps)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	store.hashes = hashes
	ctx := context.Background()

	ok, err := RunConsumeBackupCode(ctx, "u1", strings.ToLower(FormatBackupCode(plain[3])), store.snapshot(), deps)
	if err != nil || !ok {
		t.Fatalf("expected code 3 to validate, ok=%v err=%v", ok, err)
	}
	remaining := store.snapshot()
	if len(remaining) != 7 {
		t.Fatalf("expected 7 remaining codes, got %d", len(remaining))
	}
	for _, h := range remaining {
		if h == hashes[3] {
			t.Fatal("consumed hash must be removed")
		}
	}

	ok, err = RunConsumeBackupCode(ctx, "u1", plain[3], store.snapshot(), deps)
	if err != nil || ok {
		t.Fatalf("expected second use to fail, ok=%v err=%v", ok, err)
	}
}

func TestConsumeBackupCodeConcurrentSingleWinner(t *testing.T) {
	store := &memoryCodes{}
	deps := plainDeps(store)
	plain, hashes, _ := GenerateBackupCodes(4, deps)
	store.hashes = hashes
	stale := store.snapshot()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := RunConsumeBackupCode(context.Background(), "u1", plain[0], stale, deps)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestConsumeBackupCodeRejectsMalformedInput(t *testing.T) {
	store := &memoryCodes{hashes: []string{"h:ABCD1234"}}
	deps := plainDeps(store)
	for _, code := range []string{"", "ABC", "ABCD12345", "ABCD_123"} {
		if ok, _ := RunConsumeBackupCode(context.Background(), "u1", code, store.snapshot(), deps); ok {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
}

func TestConsumeBackupCodeSkipsUnreadableHashes(t *testing.T) {
	store := &memoryCodes{hashes: []string{"garbage", "h:ABCD1234"}}
	var warned int
	deps := plainDeps(store)
	deps.Verify = func(plain, hash string) (bool, error) {
		if hash == "garbage" {
			return false, errors.New("malformed")
		}
		return hash == "h:"+plain, nil
	}
	deps.Warn = func(string, ...any) { warned++ }

	ok, err := RunConsumeBackupCode(context.Background(), "u1", "abcd-1234", store.snapshot(), deps)
	if err != nil || !ok {
		t.Fatalf("expected match after skipping bad hash, ok=%v err=%v", ok, err)
	}
	if warned != 1 {
		t.Fatalf("expected one warning, got %d", warned)
	}
}

func TestMatchBackupCodeLeavesHashInPlace(t *testing.T) {
	store := &memoryCodes{}
	deps := plainDeps(store)
	plain, hashes, err := GenerateBackupCodes(4, deps)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	store.hashes = hashes

	h, ok, err := RunMatchBackupCode("u1", FormatBackupCode(plain[1]), store.snapshot(), deps)
	if err != nil || !ok || h != hashes[1] {
		t.Fatalf("expected match on hash 1, got %q ok=%v err=%v", h, ok, err)
	}
	if len(store.snapshot()) != 4 {
		t.Fatal("matching must not remove the hash")
	}

	if _, ok, _ := RunMatchBackupCode("u1", "ZZZZZZZZ", store.snapshot(), deps); ok {
		t.Fatal("unknown code must not match")
	}
	if _, _, err := RunMatchBackupCode("u1", plain[0], nil, BackupCodeDeps{}); err == nil {
		t.Fatal("expected error without a verifier")
	}
}
