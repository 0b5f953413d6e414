package config

import (
	"strings"
	"time"
)

// RateLimitConfig controls the distributed token-bucket middleware.
// When disabled (the default) the middleware is a pass-through.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int           // bucket size
	RefillTokens   int           // tokens added per interval
	RefillInterval time.Duration // refill cadence
	TTL            time.Duration // idle bucket expiry
	Prefix         string        // redis key prefix
	KeyStrategy    string        // ip | user | route | combinations
}

func loadRateLimit() (RateLimitConfig, error) {
	cfg := RateLimitConfig{
		Prefix:      getenv("RATE_LIMIT_PREFIX", "ratelimit"),
		KeyStrategy: getenv("RATE_LIMIT_KEY_STRATEGY", "ip_user"),
	}
	enabled := getenv("RATE_LIMIT_ENABLED", "false")
	cfg.Enabled = strings.EqualFold(enabled, "true") || enabled == "1"

	var err error
	if cfg.Capacity, err = intEnv("RATE_LIMIT_CAPACITY", 20); err != nil {
		return cfg, err
	}
	if cfg.RefillTokens, err = intEnv("RATE_LIMIT_REFILL_TOKENS", 10); err != nil {
		return cfg, err
	}
	var ms int
	if ms, err = intEnv("RATE_LIMIT_REFILL_INTERVAL_MS", 1000); err != nil {
		return cfg, err
	}
	cfg.RefillInterval = time.Duration(ms) * time.Millisecond
	cfg.TTL = 10 * time.Minute
	return cfg, nil
}
