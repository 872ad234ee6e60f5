package config

import (
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns default when env not set",
			key:          "KBQUERY_TEST_KEY_1",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
		{
			name:         "returns env value when set",
			key:          "KBQUERY_TEST_KEY_2",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := GetEnvOrDefault(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("GetEnvOrDefault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"unset uses default", "", 5 * time.Second},
		{"valid duration", "250ms", 250 * time.Millisecond},
		{"garbage uses default", "soon", 5 * time.Second},
		{"negative uses default", "-1s", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KBQUERY_TEST_DURATION", tt.envValue)
			if got := parseEnvDuration("KBQUERY_TEST_DURATION", 5*time.Second); got != tt.want {
				t.Errorf("parseEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetAPIURL(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("KB_API_URL", "")
		if got := GetAPIURL(); got != defaultAPIURL {
			t.Errorf("GetAPIURL() = %q, want %q", got, defaultAPIURL)
		}
	})

	t.Run("trailing slash trimmed", func(t *testing.T) {
		t.Setenv("KB_API_URL", "https://kb.example.com/api/v1/")
		if got := GetAPIURL(); got != "https://kb.example.com/api/v1" {
			t.Errorf("GetAPIURL() = %q", got)
		}
	})
}

func TestGetRateLimitConfig(t *testing.T) {
	t.Setenv("RATELIMIT_ENABLED", "true")
	t.Setenv("RATELIMIT_QUESTION_SUBMIT", "3")

	cfg := GetRateLimitConfig("question_submit")
	if !cfg.Enabled || cfg.MaxHits != 3 || cfg.Window != time.Minute {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if unknown := GetRateLimitConfig("nope"); unknown.Enabled {
		t.Errorf("unknown key should be disabled, got %+v", unknown)
	}
}

func TestAPITokenManagement(t *testing.T) {
	original := GetAPIToken()

	t.Run("set and restore API token", func(t *testing.T) {
		restore := SetAPIToken("test-token")

		if GetAPIToken() != "test-token" {
			t.Errorf("API token not updated, got %s", GetAPIToken())
		}

		restore()

		if GetAPIToken() != original {
			t.Errorf("API token not restored, got %s, want %s", GetAPIToken(), original)
		}
	})

	t.Run("concurrent access to API token", func(t *testing.T) {
		done := make(chan bool)
		for i := 0; i < 10; i++ {
			go func() {
				GetAPIToken()
				done <- true
			}()
		}

		for i := 0; i < 10; i++ {
			<-done
		}
	})
}
