// Package config holds the runtime configuration of the service and the
// fixed domain constants shared by the core packages.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the process configuration, read from the environment.
type Config struct {
	HTTPAddr        string
	StorageDriver   string
	DatabaseDSN     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	InviteSingleUse bool
	LogLevel        string
	LogPretty       bool
	ShutdownTimeout time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	return Config{
		HTTPAddr:        getString("HTTP_ADDR", ":8080"),
		StorageDriver:   strings.ToLower(getString("STORAGE_DRIVER", DriverPostgres)),
		DatabaseDSN:     getString("DATABASE_DSN", "host=localhost user=user password=password dbname=anonchatdb port=5432 sslmode=disable"),
		RedisAddr:       getString("REDIS_ADDR", "localhost:6380"),
		RedisPassword:   getString("REDIS_PASSWORD", ""),
		RedisDB:         getInt("REDIS_DB", 0),
		JWTSecret:       getString("JWT_SECRET", ""),
		InviteSingleUse: getBool("INVITE_SINGLE_USE", false),
		LogLevel:        getString("LOG_LEVEL", "info"),
		LogPretty:       getBool("LOG_PRETTY", false),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return def
	}
	return d
}
