package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadEnvFile loads variables from a .env file in the working directory, if present.
// Variables already set in the process environment win.
func LoadEnvFile() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using process environment")
	}
}

// GetEnvOrDefault returns the value of an environment variable or a default value
func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseEnvInt(key string, defaultValue int) int {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		log.Warn().Str("key", key).Int("default", defaultValue).Msg("Invalid integer value, using default")
		return defaultValue
	}

	return parsed
}

func parseEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(val)
	if err != nil || parsed < 0 {
		log.Warn().Str("key", key).Dur("default", defaultValue).Msg("Invalid duration value, using default")
		return defaultValue
	}

	return parsed
}

func parseEnvBool(key string, defaultValue bool) bool {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		log.Warn().Str("key", key).Bool("default", defaultValue).Msg("Invalid boolean value, using default")
		return defaultValue
	}

	return parsed
}
