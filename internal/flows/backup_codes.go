package flows

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/internal"
)

const (
	// BackupCodeLength is the number of characters in a backup code.
	BackupCodeLength = 8
	// BackupCodeAlphabet is the fallback alphabet; it matches what the primary
	// derivation can produce.
	BackupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	backupCodeEntropyBytes = 12
)

// ErrBackupCodeGeneration is returned when no randomness is available.
var ErrBackupCodeGeneration = errors.New("backup code generation failed")

// BackupCodeDeps wires the vault to the engine's hasher and user store.
type BackupCodeDeps struct {
	Hash   func(string) (string, error)
	Verify func(plain, hash string) (bool, error)
	// Remove deletes hash from the user's list only if still present.
	Remove func(ctx context.Context, userID, hash string) (bool, error)

	RandomBytes func([]byte) error
	RandomIndex func(int) (int, error)
	Warn        func(string, ...any)
}

// GenerateBackupCodes returns count plaintext codes and their hashes in the
// same order. Plaintext is never persisted.
func GenerateBackupCodes(count int, deps BackupCodeDeps) ([]string, []string, error) {
	normalizeBackupCodeDeps(&deps)
	if count <= 0 || deps.Hash == nil {
		return nil, nil, ErrBackupCodeGeneration
	}

	plain := make([]string, 0, count)
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := NewBackupCode(deps.RandomBytes, deps.RandomIndex)
		if err != nil {
			return nil, nil, err
		}
		h, err := deps.Hash(code)
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, code)
		hashes = append(hashes, h)
	}
	return plain, hashes, nil
}

// NewBackupCode derives a code from random bytes via base64, keeping only
// [A-Z0-9] after upper-casing. When that leaves fewer than BackupCodeLength
// characters the code is drawn directly from BackupCodeAlphabet instead.
func NewBackupCode(randomBytes func([]byte) error, randomIndex func(int) (int, error)) (string, error) {
	if randomBytes == nil {
		randomBytes = cryptoRandomBytes
	}
	if randomIndex == nil {
		randomIndex = internal.RandomIndex
	}

	buf := make([]byte, backupCodeEntropyBytes)
	if err := randomBytes(buf); err == nil {
		if code := filterBackupCode(base64.StdEncoding.EncodeToString(buf)); len(code) >= BackupCodeLength {
			return code[:BackupCodeLength], nil
		}
	}

	var b strings.Builder
	b.Grow(BackupCodeLength)
	for i := 0; i < BackupCodeLength; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", ErrBackupCodeGeneration
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

func filterBackupCode(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CanonicalizeBackupCode accepts lower case and "ABCD-1234" style input.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// FormatBackupCode splits a code in half for display.
func FormatBackupCode(code string) string {
	if len(code) < BackupCodeLength {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// RunMatchBackupCode scans hashes for code and returns the matching hash
// without removing it.
func RunMatchBackupCode(userID, code string, hashes []string, deps BackupCodeDeps) (string, bool, error) {
	normalizeBackupCodeDeps(&deps)
	if deps.Verify == nil {
		return "", false, errors.New("backup code vault not wired")
	}

	canonical := CanonicalizeBackupCode(code)
	if len(canonical) != BackupCodeLength || filterBackupCode(canonical) != canonical {
		return "", false, nil
	}

	for _, h := range hashes {
		ok, err := deps.Verify(canonical, h)
		if err != nil {
			deps.Warn("authcore: skipping unreadable backup code hash for user %s: %v", userID, err)
			continue
		}
		if ok {
			return h, true, nil
		}
	}
	return "", false, nil
}

// RunConsumeBackupCode scans hashes for code and removes the first match.
// It returns false when nothing matched or a concurrent caller removed the
// same hash first.
func RunConsumeBackupCode(ctx context.Context, userID, code string, hashes []string, deps BackupCodeDeps) (bool, error) {
	if deps.Remove == nil {
		return false, errors.New("backup code vault not wired")
	}
	h, ok, err := RunMatchBackupCode(userID, code, hashes, deps)
	if err != nil || !ok {
		return false, err
	}
	return deps.Remove(ctx, userID, h)
}

func cryptoRandomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.RandomBytes == nil {
		deps.RandomBytes = cryptoRandomBytes
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = internal.RandomIndex
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
}
