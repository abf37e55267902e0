// Package config provides environment-variable configuration loading for
// this module: a prefixed string/int accessor pair (EnvConfig) and the
// typed DBConfig surface built on it.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvConfig reads configuration from environment variables, optionally
// namespaced under a prefix (e.g. prefix "ROUCHDB" reads ROUCHDB_COUCHDB_URL
// instead of the bare COUCHDB_URL).
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a new environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

// GetString retrieves a string value from the environment, falling back to
// defaultValue if unset or empty.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from the environment, falling back to
// defaultValue if unset or unparseable.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}
