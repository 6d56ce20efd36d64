package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env         string // APP_ENV (dev, test, prod)
	Port        string // APP_PORT
	LogLevel    string // LOG_LEVEL: debug, info, warn, error
	StoreDriver string // STORE_DRIVER: mysql or memory

	DBUser string
	DBPass string // empty allowed
	DBHost string
	DBPort string
	DBName string

	JWTSecret string

	HoldTTL           time.Duration // lease of a held seat
	SweepInterval     time.Duration
	SweepBatch        int
	StoreTimeout      time.Duration // bound on every store call
	IssueOnProcessing bool          // issue tickets on "processing" as well as "completed"
	TicketExpiryGrace time.Duration // unused tickets expire this long after departure
	PurgeRetention    time.Duration // default age for the operator purge

	RabbitMQURL string // empty disables publishing and the order consumer
}

// Load reads .env when present, then the process environment.  A missing
// or malformed required variable logs a fatal error and exits.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	r := &reader{}
	cfg := Config{
		Env:         envStr("APP_ENV", "dev"),
		Port:        r.must("APP_PORT"),
		LogLevel:    strings.ToLower(envStr("LOG_LEVEL", "info")),
		StoreDriver: strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		DBPass:      os.Getenv("DB_PASS"),
		JWTSecret:   r.must("JWT_SECRET"),

		HoldTTL:           r.dur("HOLD_TTL", 15*time.Minute),
		SweepInterval:     r.dur("SWEEP_INTERVAL", time.Minute),
		SweepBatch:        r.num("SWEEP_BATCH", 500),
		StoreTimeout:      r.dur("STORE_TIMEOUT", 3*time.Second),
		IssueOnProcessing: envBool("ISSUE_ON_PROCESSING", false),
		TicketExpiryGrace: r.dur("TICKET_EXPIRY_GRACE", 6*time.Hour),
		PurgeRetention:    r.dur("PURGE_RETENTION", 30*24*time.Hour),

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
	}
	switch cfg.StoreDriver {
	case DriverMySQL:
		cfg.DBUser = r.must("DB_USER")
		cfg.DBHost = r.must("DB_HOST")
		cfg.DBPort = r.must("DB_PORT")
		cfg.DBName = r.must("DB_NAME")
	case DriverMemory:
	default:
		r.fail("STORE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverMemory, cfg.StoreDriver)
	}
	if cfg.HoldTTL <= 0 {
		r.fail("HOLD_TTL must be positive")
	}
	if cfg.SweepInterval <= 0 {
		r.fail("SWEEP_INTERVAL must be positive")
	}
	if cfg.SweepBatch < 1 {
		r.fail("SWEEP_BATCH must be at least 1")
	}
	return cfg, errors.Join(r.errs...)
}

// reader collects every problem so one start reports all of them.
type reader struct {
	errs []error
}

func (r *reader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Errorf(format, args...))
}

// must retrieves the value of a required environment variable.
func (r *reader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		r.fail("missing required env var: %s", key)
	}
	return v
}

func (r *reader) num(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.fail("invalid int for %s: %q", key, s)
		return def
	}
	return n
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.fail("invalid duration for %s: %q", key, s)
		return def
	}
	return d
}
