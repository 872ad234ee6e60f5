package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultAPIURL = "http://localhost:8000/api/v1"

// GetAPIURL returns the knowledge-base API base URL without a trailing slash
func GetAPIURL() string {
	value := strings.TrimRight(GetEnvOrDefault("KB_API_URL", defaultAPIURL), "/")
	if value == "" {
		log.Warn().Msg("KB_API_URL is empty - falling back to default")
		return defaultAPIURL
	}
	return value
}

// GetHTTPTimeout bounds REST calls and resource fetches. Query streams are not
// subject to it.
func GetHTTPTimeout() time.Duration {
	return parseEnvDuration("KB_HTTP_TIMEOUT", 30*time.Second)
}
