package authcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
)

// Config is the complete engine configuration.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable. [Builder.Build] copies the value it is given.
type Config struct {
	JWT      JWTConfig             `yaml:"jwt" toml:"jwt"`
	Security SecurityConfig        `yaml:"security" toml:"security"`
	MFA      MFAConfig             `yaml:"mfa" toml:"mfa"`
	Password password.Argon2Config `yaml:"password" toml:"password"`
	Redis    RedisConfig           `yaml:"redis" toml:"redis"`
	Audit    AuditConfig           `yaml:"audit" toml:"audit"`
	Metrics  MetricsConfig         `yaml:"metrics" toml:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access and refresh tokens. Secret signs access tokens
// with HMAC-SHA256.
type JWTConfig struct {
	Secret     string        `yaml:"secret" toml:"secret"`
	Issuer     string        `yaml:"issuer" toml:"issuer"`
	Audience   string        `yaml:"audience" toml:"audience"`
	AccessTTL  time.Duration `yaml:"access_ttl" toml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" toml:"refresh_ttl"`
	Leeway     time.Duration `yaml:"leeway" toml:"leeway"`

	// KeyID names Secret in the kid header. PreviousSecrets keeps tokens
	// signed under an older kid verifiable during a rotation.
	KeyID           string            `yaml:"key_id" toml:"key_id"`
	PreviousSecrets map[string]string `yaml:"previous_secrets" toml:"previous_secrets"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the lockout policy. MaxLoginAttempts consecutive
// failures within LockoutDuration lock the username for LockoutDuration.
type SecurityConfig struct {
	MaxLoginAttempts int           `yaml:"max_login_attempts" toml:"max_login_attempts"`
	LockoutDuration  time.Duration `yaml:"lockout_duration" toml:"lockout_duration"`
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls second-factor behavior. With Enabled=false users with
// MFA configured log in with their password alone and MFA management calls
// fail with ErrMfaFeatureDisabled.
type MFAConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Issuer  string `yaml:"issuer" toml:"issuer"`

	ChallengeTTL         time.Duration `yaml:"challenge_ttl" toml:"challenge_ttl"`
	MaxChallengeAttempts int           `yaml:"max_challenge_attempts" toml:"max_challenge_attempts"`
	// MaxCodeAttempts bounds wrong codes submitted without a challenge id.
	MaxCodeAttempts int           `yaml:"max_code_attempts" toml:"max_code_attempts"`
	CodeCooldown    time.Duration `yaml:"code_cooldown" toml:"code_cooldown"`

	BackupCodeCount int `yaml:"backup_code_count" toml:"backup_code_count"`

	TOTPPeriod                  uint `yaml:"totp_period" toml:"totp_period"`
	TOTPSkew                    int  `yaml:"totp_skew" toml:"totp_skew"`
	EnforceTOTPReplayProtection bool `yaml:"enforce_totp_replay_protection" toml:"enforce_totp_replay_protection"`

	// CodeMessage is the SMS/email body; %s is replaced by the code.
	CodeMessage  string `yaml:"code_message" toml:"code_message"`
	EmailSubject string `yaml:"email_subject" toml:"email_subject"`
}

/*
====================================
INFRASTRUCTURE CONFIG
====================================
*/

// RedisConfig namespaces every key the engine writes.
type RedisConfig struct {
	Prefix string `yaml:"prefix" toml:"prefix"`
}

// AuditConfig controls audit delivery. Sync delivery is the default; Async
// hands entries to a background goroutine.
type AuditConfig struct {
	Async      bool `yaml:"async" toml:"async"`
	BufferSize int  `yaml:"buffer_size" toml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full" toml:"drop_if_full"`
}

// MetricsConfig toggles the in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" toml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" toml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration [New] starts from. The JWT secret
// is left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:     "authcore",
			Audience:   "authcore-api",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			LockoutDuration:  15 * time.Minute,
		},
		MFA: MFAConfig{
			Enabled:                     true,
			Issuer:                      "authcore",
			ChallengeTTL:                5 * time.Minute,
			MaxChallengeAttempts:        5,
			MaxCodeAttempts:             5,
			CodeCooldown:                5 * time.Minute,
			BackupCodeCount:             8,
			TOTPPeriod:                  30,
			TOTPSkew:                    1,
			EnforceTOTPReplayProtection: false,
			CodeMessage:                 "Your verification code is %s",
			EmailSubject:                "Your verification code",
		},
		Password: password.DefaultArgon2Config(),
		Redis: RedisConfig{
			Prefix: "authcore",
		},
		Audit: AuditConfig{
			Async:      false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.JWT.PreviousSecrets != nil {
		out.JWT.PreviousSecrets = make(map[string]string, len(cfg.JWT.PreviousSecrets))
		for k, v := range cfg.JWT.PreviousSecrets {
			out.JWT.PreviousSecrets[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first fatal misconfiguration. Every returned error
// wraps [ErrConfiguration].
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
	}

	// JWT
	if len(c.JWT.Secret) < jwt.MinSecretBytes {
		return fail("JWT Secret must be at least %d bytes", jwt.MinSecretBytes)
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		return fail("JWT Issuer and Audience are required")
	}
	if c.JWT.AccessTTL <= 0 {
		return fail("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return fail("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return fail("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return fail("JWT Leeway must be within [0, 2m]")
	}
	if len(c.JWT.PreviousSecrets) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return fail("JWT KeyID is required when PreviousSecrets are configured")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return fail("MaxLoginAttempts must be > 0")
	}
	if c.Security.LockoutDuration <= 0 {
		return fail("LockoutDuration must be > 0")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 {
		return fail("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.MaxChallengeAttempts <= 0 {
		return fail("MFA MaxChallengeAttempts must be > 0")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeCount > 32 {
		return fail("MFA BackupCodeCount must be within [1, 32]")
	}
	if c.MFA.TOTPPeriod == 0 {
		return fail("MFA TOTPPeriod must be > 0")
	}
	if c.MFA.TOTPSkew < 0 || c.MFA.TOTPSkew > 3 {
		return fail("MFA TOTPSkew must be within [0, 3]")
	}
	if strings.Count(c.MFA.CodeMessage, "%s") != 1 {
		return fail("MFA CodeMessage must contain exactly one %%s")
	}
	if c.MFA.Enabled && strings.TrimSpace(c.MFA.Issuer) == "" {
		return fail("MFA Issuer is required when MFA is enabled")
	}

	// Password
	if err := c.Password.Validate(); err != nil {
		return fail("%v", err)
	}

	// Redis
	if strings.TrimSpace(c.Redis.Prefix) == "" || strings.ContainsAny(c.Redis.Prefix, "*?[] ") {
		return fail("Redis Prefix must be non-empty and free of glob characters")
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return fail("Audit BufferSize must be > 0 when Async is set")
	}

	return nil
}
