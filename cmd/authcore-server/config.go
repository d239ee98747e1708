package main

import (
	"os"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/notify"
)

// serverConfig is the deployment file. The auth section is the engine
// configuration; everything else wires its collaborators.
type serverConfig struct {
	Listen          string        `yaml:"listen" toml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`

	// PostgresURL selects the Postgres user store; empty uses the in-memory
	// store seeded from Seed.
	PostgresURL string     `yaml:"postgres_url" toml:"postgres_url"`
	Seed        []seedUser `yaml:"seed" toml:"seed"`

	// LegacyBcryptCost is the cost expected of imported bcrypt hashes.
	LegacyBcryptCost int `yaml:"legacy_bcrypt_cost" toml:"legacy_bcrypt_cost"`

	// AuditDB is the SQLite file receiving audit entries; empty logs them
	// as JSON lines to stderr.
	AuditDB string `yaml:"audit_db" toml:"audit_db"`

	SMS   notify.SMSConfig   `yaml:"sms" toml:"sms"`
	Email notify.EmailConfig `yaml:"email" toml:"email"`

	Auth authcore.Config `yaml:"auth" toml:"auth"`
}

type seedUser struct {
	Username    string   `yaml:"username" toml:"username"`
	Email       string   `yaml:"email" toml:"email"`
	Password    string   `yaml:"password" toml:"password"`
	Roles       []string `yaml:"roles" toml:"roles"`
	Permissions []string `yaml:"permissions" toml:"permissions"`
}

// Environment overrides for secrets that should not live in files.
const (
	envRedisAddr   = "AUTHCORE_REDIS_ADDR"
	envPostgresURL = "AUTHCORE_POSTGRES_URL"
	envSMTPPass    = "AUTHCORE_SMTP_PASSWORD"
	envSMSPass     = "AUTHCORE_SMS_PASSWORD"
)

func defaultServerConfig() serverConfig {
	return serverConfig{
		Listen:           ":8080",
		ShutdownTimeout:  30 * time.Second,
		RedisAddr:        "localhost:6379",
		LegacyBcryptCost: 12,
		Auth:             authcore.DefaultConfig(),
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	if path != "" {
		if err := authcore.DecodeFile(path, &cfg); err != nil {
			return serverConfig{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *serverConfig) applyEnv() {
	c.Auth.ApplyEnvOverrides()
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.RedisAddr, envRedisAddr)
	set(&c.PostgresURL, envPostgresURL)
	set(&c.Email.Password, envSMTPPass)
	set(&c.SMS.Password, envSMSPass)
}
