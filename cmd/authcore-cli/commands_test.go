package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/password"
)

func TestRunRequiresCommand(t *testing.T) {
	require.ErrorIs(t, run(nil, strings.NewReader(""), &bytes.Buffer{}), errUsage)
	require.ErrorIs(t, run([]string{"explode"}, strings.NewReader(""), &bytes.Buffer{}), errUsage)
}

func TestHashReadsStdin(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"hash", "-bcrypt", "4"}, strings.NewReader("s3cret\n"), &out))

	hash := strings.TrimSpace(out.String())
	ok, err := password.NewBcrypt(4).Verify("s3cret", hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHashRejectsEmptyInput(t *testing.T) {
	require.Error(t, run([]string{"hash", "-bcrypt", "4"}, strings.NewReader("\n"), &bytes.Buffer{}))
}

func TestTOTPPrintsCurrentCode(t *testing.T) {
	var out bytes.Buffer
	now := func() time.Time { return time.Unix(59, 0) }
	require.NoError(t, runTOTP([]string{"-secret", "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"}, &out, now))
	require.Equal(t, "287082 (valid for 1s)\n", out.String())

	require.Error(t, runTOTP(nil, &bytes.Buffer{}, now))
}

func TestUnlockAndClearLockouts(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("AUTHCORE_JWT_SECRET", strings.Repeat("c", 32))
	require.NoError(t, mr.Set("authcore:lo:{alice}:c", "3"))
	require.NoError(t, mr.Set("authcore:lo:{alice}:u", "0"))
	require.NoError(t, mr.Set("authcore:lo:{bob}:c", "1"))

	var out bytes.Buffer
	require.NoError(t, run([]string{"unlock", "-redis", mr.Addr(), "alice"}, strings.NewReader(""), &out))
	require.Equal(t, "unlocked alice\n", out.String())
	require.False(t, mr.Exists("authcore:lo:{alice}:c"))
	require.False(t, mr.Exists("authcore:lo:{alice}:u"))
	require.True(t, mr.Exists("authcore:lo:{bob}:c"))

	out.Reset()
	require.NoError(t, run([]string{"clear-lockouts", "-redis", mr.Addr()}, strings.NewReader(""), &out))
	require.Equal(t, "removed 1 keys\n", out.String())
	require.False(t, mr.Exists("authcore:lo:{bob}:c"))

	require.Error(t, run([]string{"unlock", "-redis", mr.Addr()}, strings.NewReader(""), &bytes.Buffer{}))
}
