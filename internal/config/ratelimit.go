package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := parseEnvBool("RATELIMIT_ENABLED", false)

	configs := map[string]RateLimitConfig{
		"view_connect": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_VIEW_CONNECT", 30), // 30 new views per minute per client
			Window:  time.Minute,
		},
		"question_submit": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_QUESTION_SUBMIT", 20), // 20 questions per minute per view
			Window:  time.Minute,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	log.Warn().Str("key", key).Msg("No rate limit config found")
	return RateLimitConfig{Enabled: false}
}
