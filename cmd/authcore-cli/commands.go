package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/userstore/memory"
)

var errUsage = errors.New("usage: authcore-cli <hash|totp|unlock|clear-lockouts> [flags]")

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "hash":
		return runHash(args[1:], stdin, stdout)
	case "totp":
		return runTOTP(args[1:], stdout, time.Now)
	case "unlock":
		return runUnlock(args[1:], stdout)
	case "clear-lockouts":
		return runClearLockouts(args[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

func runHash(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	bcryptCost := fs.Int("bcrypt", 0, "hash with bcrypt at this cost instead of argon2id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := readSecret(stdin, stdout)
	if err != nil {
		return err
	}

	var hasher authcore.PasswordHasher
	if *bcryptCost > 0 {
		hasher = password.NewBcrypt(*bcryptCost)
	} else {
		a, err := password.NewArgon2(password.DefaultArgon2Config())
		if err != nil {
			return err
		}
		hasher = a
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(stdin io.Reader, stdout io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stdout, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func runTOTP(args []string, stdout io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("totp", flag.ContinueOnError)
	secret := fs.String("secret", "", "base32 TOTP secret")
	period := fs.Uint("period", 30, "time step in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	at := now()
	code, err := authcore.TOTPCode(*secret, *period, at)
	if err != nil {
		return err
	}
	remaining := int64(*period) - at.Unix()%int64(*period)
	_, err = fmt.Fprintf(stdout, "%s (valid for %ds)\n", code, remaining)
	return err
}

type engineFlags struct {
	config    string
	redisAddr string
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "engine configuration file (YAML or TOML)")
	fs.StringVar(&f.redisAddr, "redis", "localhost:6379", "redis address")
}

// openEngine builds an engine for Redis-only administration. The user store
// is empty because lockout state never touches it.
func (f *engineFlags) openEngine() (*authcore.Engine, func(), error) {
	cfg := authcore.DefaultConfig()
	if f.config != "" {
		loaded, err := authcore.LoadConfigFile(f.config)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	} else {
		cfg.ApplyEnvOverrides()
	}

	hasher := password.NewBcrypt(bcrypt.MinCost)
	users, err := memory.New(hasher)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: f.redisAddr})
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPasswordHasher(hasher).
		WithLogger(log.New(io.Discard, "", 0)).
		Build()
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return engine, func() {
		engine.Close()
		_ = rdb.Close()
	}, nil
}

func runUnlock(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	var ef engineFlags
	ef.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("unlock: at least one username required")
	}

	engine, closeFn, err := ef.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, username := range fs.Args() {
		if err := engine.UnlockAccount(ctx, username); err != nil {
			return fmt.Errorf("unlock %s: %w", username, err)
		}
		fmt.Fprintf(stdout, "unlocked %s\n", username)
	}
	return nil
}

func runClearLockouts(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("clear-lockouts", flag.ContinueOnError)
	var ef engineFlags
	ef.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, closeFn, err := ef.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := engine.ClearAllLockouts(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "removed %d keys\n", n)
	return err
}
