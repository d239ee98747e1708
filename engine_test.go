package authcore

import (
	"context"
	"errors"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/password"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 7, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockUserStore struct {
	mu          sync.Mutex
	users       map[string]*User
	passwords   map[string]string
	permissions map[string][]string
	failGet     error
	failRemove  error
	// beforeRemove runs ahead of RemoveBackupCode with the lock released.
	beforeRemove func(id, hash string)
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:       map[string]*User{},
		passwords:   map[string]string{},
		permissions: map[string][]string{},
	}
}

func (s *mockUserStore) add(u User, pw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(&u)
	s.passwords[u.ID] = pw
}

func (s *mockUserStore) get(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUser(s.users[id])
}

func (s *mockUserStore) update(id string, fn func(u *User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.users[id])
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	out.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	return &out
}

func (s *mockUserStore) GetUserByID(_ context.Context, id string) (*User, error) {
	if s.failGet != nil {
		return nil, s.failGet
	}
	if u := s.get(id); u != nil {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (s *mockUserStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *mockUserStore) ValidateCredentials(ctx context.Context, username, pw string) (*User, bool, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passwords[u.ID] != pw {
		return nil, false, nil
	}
	return u, true, nil
}

func (s *mockUserStore) GetPermissions(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.permissions[id]...), nil
}

func (s *mockUserStore) RecordLogin(_ context.Context, id string, at time.Time) error {
	s.update(id, func(u *User) { u.LastLoginAt = at })
	return nil
}

func (s *mockUserStore) RecordMfaValidation(_ context.Context, id string, at time.Time) error {
	s.update(id, func(u *User) { u.LastMfaValidationAt = at })
	return nil
}

func (s *mockUserStore) EnableMfa(_ context.Context, id string, m MfaMethod, hashes []string) error {
	s.update(id, func(u *User) {
		u.MfaEnabled = true
		u.Mfa = m
		u.BackupCodeHashes = append([]string(nil), hashes...)
	})
	return nil
}

func (s *mockUserStore) DisableMfa(_ context.Context, id string) error {
	s.update(id, func(u *User) {
		u.MfaEnabled = false
		u.Mfa = nil
		u.BackupCodeHashes = nil
	})
	return nil
}

func (s *mockUserStore) ReplaceBackupCodes(_ context.Context, id string, hashes []string) error {
	s.update(id, func(u *User) { u.BackupCodeHashes = append([]string(nil), hashes...) })
	return nil
}

func (s *mockUserStore) RemoveBackupCode(_ context.Context, id, hash string) (bool, error) {
	if s.beforeRemove != nil {
		s.beforeRemove(id, hash)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemove != nil {
		return false, s.failRemove
	}
	u := s.users[id]
	if u == nil {
		return false, ErrUserNotFound
	}
	for i, h := range u.BackupCodeHashes {
		if h == hash {
			u.BackupCodeHashes = append(u.BackupCodeHashes[:i:i], u.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type sentMessage struct {
	destination string
	message     string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

var sixDigits = regexp.MustCompile(`\d{6}`)

func (n *mockNotifier) Send(_ context.Context, destination, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{destination: destination, message: message})
	return nil
}

func (n *mockNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no message sent")
	}
	code := sixDigits.FindString(n.sent[len(n.sent)-1].message)
	if code == "" {
		t.Fatalf("no code in message %q", n.sent[len(n.sent)-1].message)
	}
	return code
}

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *recordingSink) Log(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) find(action string) (AuditEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Action == action {
			return s.entries[i], true
		}
	}
	return AuditEntry{}, false
}

type testEnv struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
	users *mockUserStore
	sms   *mockNotifier
	email *mockNotifier
	sink  *recordingSink
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret
	cfg.Password = password.Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func newTestEngine(t testing.TB, cfg Config) (*Engine, *testEnv) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		clock: newTestClock(),
		users: newMockUserStore(),
		sms:   &mockNotifier{},
		email: &mockNotifier{},
		sink:  &recordingSink{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithPasswordHasher(password.NewBcrypt(4)).
		WithAuditSink(env.sink).
		WithSMSGateway(env.sms).
		WithEmailGateway(env.email).
		WithClock(env.clock.Now).
		WithLogger(log.New(io.Discard, "", 0)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine, env
}

func addAlice(env *testEnv) {
	env.users.add(User{
		ID:          "u1",
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice Liddell",
		Active:      true,
		Roles:       []string{"analyst", "reviewer"},
	}, "correct-password")
	env.users.mu.Lock()
	env.users.permissions["u1"] = []string{"reports:read", "reports:write"}
	env.users.mu.Unlock()
}

func login(e *Engine, pw string) (*AuthResult, error) {
	return e.Authenticate(context.Background(), LoginRequest{Username: "alice", Password: pw})
}

func TestAuthenticateIssuesTokens(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)

	res, err := login(engine, "correct-password")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if res.MfaRequired || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", res)
	}
	if res.User == nil || res.User.ID != "u1" || res.User.DisplayName != "Alice Liddell" {
		t.Fatalf("unexpected user info %+v", res.User)
	}
	if !engine.ValidateToken(res.AccessToken) {
		t.Fatal("issued access token does not validate")
	}
	if !res.AccessTokenExpiresAt.Equal(env.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.AccessTokenExpiresAt)
	}
	if got := env.users.get("u1").LastLoginAt; !got.Equal(env.clock.Now()) {
		t.Fatalf("LastLoginAt not recorded, got %v", got)
	}
	if _, ok := env.sink.find(AuditActionLogin); !ok {
		t.Fatal("expected Login audit entry")
	}
}

func TestAuthenticateLockoutAfterMaxAttempts(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := login(engine, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if n, _ := engine.FailedAttempts(ctx, "alice"); n != 4 {
		t.Fatalf("expected 4 failed attempts, got %d", n)
	}

	if _, err := login(engine, "wrong"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("5th failure: expected ErrAccountLocked, got %v", err)
	}
	if e, ok := env.sink.find(AuditActionSecurityViolation); !ok || e.Severity != AuditSecurity {
		t.Fatalf("expected security violation audit, got %+v", e)
	}

	// Even the right password is refused while locked.
	if _, err := login(engine, "correct-password"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked while locked, got %v", err)
	}
	if _, ok := env.sink.find(AuditActionAccountLocked); !ok {
		t.Fatal("expected AccountLocked audit entry")
	}

	env.clock.Advance(14 * time.Minute)
	if _, err := login(engine, "correct-password"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock to hold before the duration elapses, got %v", err)
	}

	env.clock.Advance(time.Minute)
	if _, err := login(engine, "correct-password"); err != nil {
		t.Fatalf("expected login after lockout expiry, got %v", err)
	}
}

func TestAuthenticateSuccessResetsCounter(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = login(engine, "wrong")
	}
	if _, err := login(engine, "correct-password"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if n, _ := engine.FailedAttempts(ctx, "alice"); n != 0 {
		t.Fatalf("expected counter reset, got %d", n)
	}

	if _, err := login(engine, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if n, _ := engine.FailedAttempts(ctx, "alice"); n != 1 {
		t.Fatalf("expected counting to restart at 1, got %d", n)
	}
	if keys := env.mr.Keys(); containsKey(keys, "authcore:lo:{alice}:u") {
		t.Fatalf("lock key should be gone, keys=%v", keys)
	}
}

func TestAuthenticateUnknownUserCountsTowardLockout(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())

	for i := 0; i < 4; i++ {
		_, err := engine.Authenticate(context.Background(), LoginRequest{Username: "ghost", Password: "x"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	_, err := engine.Authenticate(context.Background(), LoginRequest{Username: "ghost", Password: "x"})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestAuthenticateInactiveUser(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)
	env.users.update("u1", func(u *User) { u.Active = false })

	if _, err := login(engine, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := login(engine, "correct-password"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if n, _ := engine.FailedAttempts(context.Background(), "alice"); n != 1 {
		t.Fatalf("inactive check must not touch the counter, got %d", n)
	}
	if _, ok := env.sink.find(AuditActionAccountInactive); !ok {
		t.Fatal("expected AccountInactive audit entry")
	}
}

func TestAuthenticateBackendFailureIsGeneric(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)
	env.mr.Close()

	_, err := login(engine, "correct-password")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if KindOf(err) != KindAuthenticationFailed {
		t.Fatalf("unexpected kind %v", KindOf(err))
	}
	if strings.Contains(err.Error(), "connect") || strings.Contains(err.Error(), "redis") {
		t.Fatalf("backend detail leaked: %q", err.Error())
	}
}

func TestAuthenticateConcurrentFailuresLockExactlyOnce(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
		locked  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := login(engine, "wrong")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalidCredentials):
				invalid++
			case errors.Is(err, ErrAccountLocked):
				locked++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if invalid != 4 {
		t.Fatalf("expected exactly 4 ErrInvalidCredentials, got %d (locked=%d)", invalid, locked)
	}
	if _, err := login(engine, "correct-password"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
}

func TestUnlockAndClearAllLockouts(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)
	env.users.add(User{ID: "u2", Username: "bob", Active: true}, "bob-password")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = login(engine, "wrong")
	}
	if err := engine.UnlockAccount(ctx, "Alice"); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	if _, err := login(engine, "correct-password"); err != nil {
		t.Fatalf("expected login after unlock, got %v", err)
	}

	for i := 0; i < 5; i++ {
		_, _ = engine.Authenticate(ctx, LoginRequest{Username: "bob", Password: "nope"})
		_, _ = login(engine, "wrong")
	}
	n, err := engine.ClearAllLockouts(ctx)
	if err != nil {
		t.Fatalf("ClearAllLockouts failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 keys removed, got %d", n)
	}
	if _, err := engine.Authenticate(ctx, LoginRequest{Username: "bob", Password: "bob-password"}); err != nil {
		t.Fatalf("expected bob to log in, got %v", err)
	}
}

func TestAuditRecordsClientContext(t *testing.T) {
	engine, env := newTestEngine(t, testConfig())
	addAlice(env)

	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.9"), "curl/8.0")
	if _, err := engine.Authenticate(ctx, LoginRequest{Username: "alice", Password: "wrong"}); err == nil {
		t.Fatal("expected failure")
	}
	e, ok := env.sink.find(AuditActionLoginFailed)
	if !ok {
		t.Fatal("expected LoginFailed entry")
	}
	if e.Details["ip"] != "203.0.113.9" || e.Details["user_agent"] != "curl/8.0" {
		t.Fatalf("client context missing from details: %v", e.Details)
	}
	if e.Details["error"] != "invalid_credentials" || e.EntityID != "alice" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestEngineMetricsCountOutcomes(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	engine, env := newTestEngine(t, cfg)
	addAlice(env)

	_, _ = login(engine, "wrong")
	_, _ = login(engine, "correct-password")

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricLoginFailure] != 1 || snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	var total uint64
	for _, n := range snap.Histograms[MetricAuthenticateLatency] {
		total += n
	}
	if total != 2 {
		t.Fatalf("expected 2 latency observations, got %d", total)
	}
}

func containsKey(keys []string, want string) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
