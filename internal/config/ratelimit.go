package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures one Redis token bucket.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// Bucket names.  Each reads <NAME>_RATE_LIMIT_* variables.
const (
	ReserveBucket = "RESERVE"
	RedeemBucket  = "REDEEM"
)

// LoadRateLimitConfig reads the bucket for name.  RATE_LIMIT_ENABLED and
// RATE_LIMIT_DEBUG apply to every bucket.  Reservations are limited per
// caller; redemptions are limited per gate device and allow a larger burst
// for boarding queues.
func LoadRateLimitConfig(name string) RateLimitConfig {
	capacity, refill, every, strategy := 10, 1, 6*time.Second, "user_route"
	if name == RedeemBucket {
		capacity, refill, every, strategy = 120, 2, time.Second, "user"
	}
	p := name + "_RATE_LIMIT_"
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true) && envBool(p+"ENABLED", true),
		Capacity:       envInt(p+"CAPACITY", capacity),
		RefillTokens:   envInt(p+"REFILL_TOKENS", refill),
		RefillInterval: envDur(p+"REFILL_INTERVAL", every),
		TTL:            envDur(p+"TTL", 10*time.Minute),
		KeyStrategy:    envStr(p+"KEY_STRATEGY", strategy),
		Prefix:         envStr(p+"PREFIX", "rl:"+name),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
