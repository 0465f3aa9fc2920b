// Package env provides small helpers for reading typed configuration
// values from environment variables with defaults.
package env

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of the environment variable or the default.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt returns the integer value of the environment variable or the
// default when unset or unparsable.
func GetEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetEnvBool returns the boolean value of the environment variable or the
// default when unset or unparsable.
func GetEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetEnvDuration returns the duration value of the environment variable or
// the default when unset or unparsable.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
