package config

import (
	"strings"
	"sync"
)

var (
	apiTokenMu sync.RWMutex
	// apiTokenOverride replaces KB_API_TOKEN when set. The environment is read
	// lazily so a .env file loaded at startup is honoured.
	apiTokenOverride *string
)

// SetAPIToken temporarily changes the API token and returns a function to restore it
// This is primarily used for testing
func SetAPIToken(token string) func() {
	apiTokenMu.Lock()
	previous := apiTokenOverride
	apiTokenOverride = &token
	apiTokenMu.Unlock()

	return func() {
		apiTokenMu.Lock()
		apiTokenOverride = previous
		apiTokenMu.Unlock()
	}
}

// GetAPIToken returns the bearer credential attached to knowledge-base API calls.
// Obtaining it (login) happens outside this client.
func GetAPIToken() string {
	apiTokenMu.RLock()
	defer apiTokenMu.RUnlock()
	if apiTokenOverride != nil {
		return *apiTokenOverride
	}
	return strings.TrimSpace(GetEnvOrDefault("KB_API_TOKEN", ""))
}
