package config

import "time"

// SessionConfig holds the session store settings. The memory backend
// serves single-instance deployments; redis serves everything else.
type SessionConfig struct {
	// Backend selects the session store: "memory" or "redis".
	Backend string `env:"NOVA2FA_SESSION_BACKEND" env-default:"memory"`

	RedisAddr     string `env:"NOVA2FA_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"NOVA2FA_REDIS_PASSWORD"`
	RedisDB       int    `env:"NOVA2FA_REDIS_DB" env-default:"0"`

	// TTLHours bounds how long session keys live in redis.
	TTLHours int `env:"NOVA2FA_SESSION_TTL_HOURS" env-default:"336"`
}

// TTL returns the session key lifetime as a duration.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}
