package config

import "time"

// AvailabilityCacheConfig controls the Redis copy of each trip's
// unavailable-seat list.  The list is advisory, so TTL bounds how long a
// lost invalidation can leave it stale.
type AvailabilityCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadAvailabilityCacheConfig reads AVAILABILITY_CACHE_* variables.
func LoadAvailabilityCacheConfig() AvailabilityCacheConfig {
	cfg := AvailabilityCacheConfig{
		Enabled: envBool("AVAILABILITY_CACHE_ENABLED", true),
		TTL:     envDur("AVAILABILITY_CACHE_TTL", 2*time.Second),
		Prefix:  envStr("AVAILABILITY_CACHE_PREFIX", "avail"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	return cfg
}
