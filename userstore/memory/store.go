// Package memory is an in-process [authcore.UserStore] for demos and tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
)

// ErrDuplicateUsername is returned by CreateUser for a taken username.
var ErrDuplicateUsername = errors.New("username already exists")

// Store keeps users in a map guarded by a mutex. Returned users are copies.
type Store struct {
	hasher authcore.PasswordHasher

	mu          sync.RWMutex
	byID        map[string]*authcore.User
	byUsername  map[string]string
	permissions map[string][]string
	dummyHash   string
}

// New creates an empty store that hashes passwords with hasher.
func New(hasher authcore.PasswordHasher) (*Store, error) {
	if hasher == nil {
		return nil, errors.New("memory: nil password hasher")
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &Store{
		hasher:      hasher,
		byID:        make(map[string]*authcore.User),
		byUsername:  make(map[string]string),
		permissions: make(map[string][]string),
		dummyHash:   dummy,
	}, nil
}

func usernameKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CreateUser stores u with password hashed. An empty ID is replaced by a
// random UUID. The ID is returned.
func (s *Store) CreateUser(_ context.Context, u authcore.User, password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.PasswordHash = hash

	s.mu.Lock()
	defer s.mu.Unlock()
	key := usernameKey(u.Username)
	if _, taken := s.byUsername[key]; taken {
		return "", ErrDuplicateUsername
	}
	s.byID[u.ID] = clone(&u)
	s.byUsername[key] = u.ID
	return u.ID, nil
}

// SetPermissions replaces the permissions reported for userID.
func (s *Store) SetPermissions(userID string, perms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[userID] = slices.Clone(perms)
}

// SetActive toggles the Active flag of userID.
func (s *Store) SetActive(userID string, active bool) error {
	return s.mutate(userID, func(u *authcore.User) { u.Active = active })
}

func (s *Store) GetUserByID(_ context.Context, userID string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[usernameKey(username)]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return clone(s.byID[id]), nil
}

// ValidateCredentials verifies against a throwaway hash for unknown users so
// both failure paths cost one hash verification.
func (s *Store) ValidateCredentials(ctx context.Context, username, password string) (*authcore.User, bool, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, authcore.ErrUserNotFound) {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return u, true, nil
}

func (s *Store) GetPermissions(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.permissions[userID]), nil
}

func (s *Store) RecordLogin(_ context.Context, userID string, at time.Time) error {
	return s.mutate(userID, func(u *authcore.User) { u.LastLoginAt = at })
}

func (s *Store) RecordMfaValidation(_ context.Context, userID string, at time.Time) error {
	return s.mutate(userID, func(u *authcore.User) { u.LastMfaValidationAt = at })
}

func (s *Store) EnableMfa(_ context.Context, userID string, method authcore.MfaMethod, hashes []string) error {
	return s.mutate(userID, func(u *authcore.User) {
		u.MfaEnabled = true
		u.Mfa = method
		u.BackupCodeHashes = slices.Clone(hashes)
	})
}

func (s *Store) DisableMfa(_ context.Context, userID string) error {
	return s.mutate(userID, func(u *authcore.User) {
		u.MfaEnabled = false
		u.Mfa = nil
		u.BackupCodeHashes = nil
	})
}

func (s *Store) ReplaceBackupCodes(_ context.Context, userID string, hashes []string) error {
	return s.mutate(userID, func(u *authcore.User) { u.BackupCodeHashes = slices.Clone(hashes) })
}

// RemoveBackupCode deletes hash under the write lock, so of two concurrent
// callers only one observes it present.
func (s *Store) RemoveBackupCode(_ context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return false, authcore.ErrUserNotFound
	}
	i := slices.Index(u.BackupCodeHashes, hash)
	if i < 0 {
		return false, nil
	}
	u.BackupCodeHashes = slices.Delete(u.BackupCodeHashes, i, i+1)
	return true, nil
}

func (s *Store) mutate(userID string, fn func(*authcore.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	fn(u)
	return nil
}

func clone(u *authcore.User) *authcore.User {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = slices.Clone(u.Roles)
	out.BackupCodeHashes = slices.Clone(u.BackupCodeHashes)
	return &out
}
