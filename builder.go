package authcore

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/cache"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	hasher    PasswordHasher
	auditSink AuditSink
	sms       Notifier
	email     Notifier

	now    func() time.Time
	logger *log.Logger

	built bool
}

// New returns a Builder starting from [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client holding lockouts, challenges and refresh tokens.
// Single-node, sentinel and cluster clients are accepted; keys touched
// together share a hash tag.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithPasswordHasher overrides the backup-code hasher. The default is
// argon2id with Config.Password parameters.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSMSGateway sets the gateway used for SMS challenges.
func (b *Builder) WithSMSGateway(n Notifier) *Builder {
	b.sms = n
	return b
}

// WithEmailGateway sets the gateway used for Email challenges.
func (b *Builder) WithEmailGateway(n Notifier) *Builder {
	b.email = n
	return b
}

// WithClock overrides time.Now for every expiry decision the engine makes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithLogger sets the logger for local failures. Defaults to the standard
// logger.
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. Every error wraps
// [ErrConfiguration].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, fmt.Errorf("%w: builder already used", ErrConfiguration)
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrConfiguration)
	}
	if b.users == nil {
		return nil, fmt.Errorf("%w: user store required", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logf := log.Printf
	if b.logger != nil {
		logf = b.logger.Printf
	}

	// -------- SIGNING --------
	verifyKeys := make(map[string][]byte, len(cfg.JWT.PreviousSecrets))
	for kid, secret := range cfg.JWT.PreviousSecrets {
		verifyKeys[kid] = []byte(secret)
	}
	jm, err := jwt.NewManager(jwt.Config{
		Secret:     []byte(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: verifyKeys,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// -------- HASHER --------
	hasher := b.hasher
	if hasher == nil {
		ph, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		hasher = ph
	}

	prefix := cfg.Redis.Prefix
	engine := &Engine{
		config:     cloneConfig(cfg),
		users:      b.users,
		hasher:     hasher,
		jwtManager: jm,
		sms:        b.sms,
		email:      b.email,
		now:        now,
		logf:       logf,
	}

	engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Prefix:    prefix,
		Threshold: cfg.Security.MaxLoginAttempts,
		Duration:  cfg.Security.LockoutDuration,
	})
	engine.mfaLimiter = limiters.NewMfaCodeLimiter(b.redis, limiters.MfaCodeConfig{
		Prefix:      prefix,
		MaxAttempts: cfg.MFA.MaxCodeAttempts,
		Cooldown:    cfg.MFA.CodeCooldown,
	})
	engine.cache = cache.New(b.redis, prefix)
	engine.challenges = stores.NewChallengeStore(b.redis, prefix)
	engine.refresh = stores.NewRefreshStore(b.redis, prefix)
	engine.totp = newTOTPManager(cfg.MFA)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = audit.NewDispatcher(audit.Config{
		Async:      cfg.Audit.Async,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logf)

	if cfg.MFA.Enabled && b.sms == nil && b.email == nil {
		logf("authcore: MFA enabled without SMS or email gateway; only TOTP challenges can be delivered")
	}

	b.built = true

	return engine, nil
}

// MustBuild is Build for process startup: a configuration error is fatal.
func (b *Builder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			log.Fatalf("authcore: %v", err)
		}
		log.Fatal(err)
	}
	return e
}
