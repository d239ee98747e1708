package authcore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables applied on top of file configuration.
const (
	EnvJWTSecret   = "AUTHCORE_JWT_SECRET"
	EnvRedisPrefix = "AUTHCORE_REDIS_PREFIX"
)

// DecodeFile decodes a YAML (.yaml, .yml) or TOML (.toml) file into v,
// leaving fields absent from the file untouched. Durations are written as
// strings such as "15m".
func DecodeFile(path string, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(v); err != nil {
			return fmt.Errorf("decode YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, v); err != nil {
			return fmt.Errorf("decode TOML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config file extension %q", ErrConfiguration, filepath.Ext(path))
	}
	return nil
}

// LoadConfigFile reads path over [DefaultConfig] and applies environment
// overrides. The result is validated by [Builder.Build], not here.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides lets deployments keep the signing secret out of files.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := os.LookupEnv(EnvJWTSecret); ok && v != "" {
		c.JWT.Secret = v
	}
	if v, ok := os.LookupEnv(EnvRedisPrefix); ok && v != "" {
		c.Redis.Prefix = v
	}
}
