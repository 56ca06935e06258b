// Package config loads runtime configuration from environment variables.
// Every knob has a default suitable for local development; production
// deployments override through the environment (or a .env file loaded by
// the entrypoint).
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings for the API server.
type Config struct {
	Addr    string
	Version string

	// JWTSecret signs access and refresh tokens. Required outside dev.
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	WarnThreshold   time.Duration

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration

	AMQPURL string

	RateLimitRPS   float64
	RateLimitBurst int

	MaxLoginAttempts int
	LockoutDuration  time.Duration

	MaxDelegationTTL time.Duration
}

// Load builds a Config from the environment. It fails only on values that
// cannot be defaulted safely, so the API can start with an in-memory store
// and no broker for local work.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getenv("AMEXING_ADDR", ":8080"),
		JWTSecret:        os.Getenv("AMEXING_JWT_SECRET"),
		AccessTokenTTL:   getdur("AMEXING_ACCESS_TTL", 8*time.Hour),
		RefreshTokenTTL:  getdur("AMEXING_REFRESH_TTL", 7*24*time.Hour),
		WarnThreshold:    getdur("AMEXING_SESSION_WARN_THRESHOLD", 5*time.Minute),
		PostgresDSN:      os.Getenv("AMEXING_PG_DSN"),
		RedisAddr:        os.Getenv("AMEXING_REDIS_ADDR"),
		RedisPassword:    os.Getenv("AMEXING_REDIS_PASSWORD"),
		RedisDB:          getint("AMEXING_REDIS_DB", 0),
		SnapshotTTL:      getdur("AMEXING_SNAPSHOT_TTL", 30*time.Second),
		AMQPURL:          os.Getenv("AMEXING_AMQP_URL"),
		RateLimitRPS:     getfloat("AMEXING_RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getint("AMEXING_RATE_LIMIT_BURST", 40),
		MaxLoginAttempts: getint("AMEXING_MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:  getdur("AMEXING_LOCKOUT_DURATION", 15*time.Minute),
		MaxDelegationTTL: getdur("AMEXING_MAX_DELEGATION_TTL", 7*24*time.Hour),
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: AMEXING_JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("config: token TTLs must be positive")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getfloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
