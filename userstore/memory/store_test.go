package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/userstore/memory"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(password.NewBcrypt(4))
	require.NoError(t, err)
	return s
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateUser(ctx, authcore.User{Username: "Alice", Email: "alice@example.com", Active: true}, "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	u, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.NotEqual(t, "hunter22", u.PasswordHash)

	_, err = s.CreateUser(ctx, authcore.User{Username: "ALICE"}, "x")
	require.ErrorIs(t, err, memory.ErrDuplicateUsername)

	_, err = s.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestValidateCredentials(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.CreateUser(ctx, authcore.User{ID: "u1", Username: "alice", Active: true}, "hunter22")
	require.NoError(t, err)

	u, ok, err := s.ValidateCredentials(ctx, "alice", "hunter22")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", u.ID)

	_, ok, err = s.ValidateCredentials(ctx, "alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.ValidateCredentials(ctx, "nobody", "hunter22")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReturnedUsersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.CreateUser(ctx, authcore.User{ID: "u1", Username: "alice", Roles: []string{"admin"}}, "pw")
	require.NoError(t, err)

	u, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	u.Roles[0] = "root"
	u.Active = true

	again, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, again.Roles)
	require.False(t, again.Active)
}

func TestMfaLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.CreateUser(ctx, authcore.User{ID: "u1", Username: "alice"}, "pw")
	require.NoError(t, err)

	require.NoError(t, s.EnableMfa(ctx, "u1", authcore.SMSMethod{Phone: "+15550001111"}, []string{"h1", "h2"}))
	u, _ := s.GetUserByID(ctx, "u1")
	require.True(t, u.MfaEnabled)
	require.Equal(t, authcore.MfaSMS, authcore.MfaKindOf(u.Mfa))

	removed, err := s.RemoveBackupCode(ctx, "u1", "h1")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = s.RemoveBackupCode(ctx, "u1", "h1")
	require.NoError(t, err)
	require.False(t, removed)

	require.NoError(t, s.ReplaceBackupCodes(ctx, "u1", []string{"h3"}))
	u, _ = s.GetUserByID(ctx, "u1")
	require.Equal(t, []string{"h3"}, u.BackupCodeHashes)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordLogin(ctx, "u1", at))
	require.NoError(t, s.RecordMfaValidation(ctx, "u1", at))

	require.NoError(t, s.DisableMfa(ctx, "u1"))
	u, _ = s.GetUserByID(ctx, "u1")
	require.False(t, u.MfaEnabled)
	require.Nil(t, u.Mfa)
	require.Empty(t, u.BackupCodeHashes)
	require.True(t, u.LastLoginAt.Equal(at))
	require.True(t, u.LastMfaValidationAt.Equal(at))

	require.ErrorIs(t, s.RecordLogin(ctx, "missing", at), authcore.ErrUserNotFound)
}

func TestRemoveBackupCodeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.CreateUser(ctx, authcore.User{ID: "u1", Username: "alice"}, "pw")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceBackupCodes(ctx, "u1", []string{"h1", "h2"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.RemoveBackupCode(ctx, "u1", "h1"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	u, _ := s.GetUserByID(ctx, "u1")
	require.Equal(t, []string{"h2"}, u.BackupCodeHashes)
}

func TestPermissions(t *testing.T) {
	s := newStore(t)
	perms := []string{"reports:read"}
	s.SetPermissions("u1", perms)
	perms[0] = "mutated"

	got, err := s.GetPermissions(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"reports:read"}, got)
}
