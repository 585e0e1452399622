package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full application configuration, loaded from the
// environment in one pass.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Email     EmailConfig
	TwoFactor TwoFactorConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `env:"NOVA2FA_HOST" env-default:"localhost"`
	Port uint16 `env:"NOVA2FA_PORT" env-default:"4000"`
	// Persistence selects the storage backend: "file" or "postgres".
	Persistence string `env:"NOVA2FA_PERSISTENCE" env-default:"file"`
	// DataDir is where the file backend keeps its JSON stores.
	DataDir string `env:"NOVA2FA_DATA_DIR" env-default:"./data"`
	// JWTSecret signs the access tokens the demo server issues.
	JWTSecret string `env:"NOVA2FA_JWT_SECRET" env-default:"very-secure-jwt-secret"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads the full configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
