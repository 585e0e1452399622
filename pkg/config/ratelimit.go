package config

import (
	"time"

	"github.com/brandnova/nova2fa/pkg/ratelimit"
)

// RateLimitConfig holds the challenge-endpoint throttle settings.
type RateLimitConfig struct {
	Enabled       bool    `env:"NOVA2FA_RATELIMIT_ENABLED" env-default:"true"`
	Capacity      int     `env:"NOVA2FA_RATELIMIT_CAPACITY" env-default:"10"`
	RefillPerMin  float64 `env:"NOVA2FA_RATELIMIT_REFILL_PER_MIN" env-default:"10"`
	BucketTTLMins int     `env:"NOVA2FA_RATELIMIT_BUCKET_TTL_MINUTES" env-default:"60"`
}

// ToThrottleConfig converts the knobs to throttle configuration.
func (c RateLimitConfig) ToThrottleConfig() ratelimit.Config {
	return ratelimit.Config{
		Capacity:   c.Capacity,
		RefillRate: c.RefillPerMin / 60.0,
		BucketTTL:  time.Duration(c.BucketTTLMins) * time.Minute,
	}
}
