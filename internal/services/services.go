package services

import (
	"fmt"
	"sync"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/deepgram/kbquery/internal/infrastructure/redis"
	"github.com/deepgram/kbquery/internal/services/credentials"
	"github.com/deepgram/kbquery/internal/services/query"
	"github.com/deepgram/kbquery/internal/services/resource"
	"github.com/deepgram/kbquery/pkg/ratelimit"
	"github.com/rs/zerolog/log"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	credentialService *credentials.Service
	kbService         *kb.Service
	redisService      *redis.Service
	loader            *resource.Loader

	// question submits, keyed by view id
	submitLimit   config.RateLimitConfig
	submitLimiter *ratelimit.Limiter
}

// InitializeServices initializes all required services
func InitializeServices() (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	// Initialize Redis service (optional)
	redisService := redis.NewService()
	log.Info().Bool("available", redisService != nil).Msg("Initializing Redis service")

	credentialService := credentials.NewService()
	if claims, err := credentialService.Claims(); err == nil {
		log.Info().Str("subject", claims.Subject).Msg("Using API token")
	}

	// Initialize knowledge-base client (required)
	kbService, err := kb.NewService(credentialService)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize knowledge-base client")
		return nil, fmt.Errorf("failed to initialize knowledge-base client: %w", err)
	}
	log.Info().Str("url", kbService.BaseURL()).Msg("Initializing knowledge-base client")

	// Blobs go to Redis when available, memory otherwise
	blobStore := resource.NewBlobStore(redisService, config.GetBlobTTL())
	loader := resource.NewLoader(kbService, blobStore, resource.LoaderOptions{})
	log.Info().Msg("Initializing resource loader")

	log.Info().Msg("All services initialized successfully")

	svcs := New(kbService, loader)
	svcs.credentialService = credentialService
	svcs.redisService = redisService
	return svcs, nil
}

// New assembles services from already built parts
func New(kbService *kb.Service, loader *resource.Loader) *Services {
	limit := config.GetRateLimitConfig("question_submit")
	return &Services{
		kbService:     kbService,
		loader:        loader,
		submitLimit:   limit,
		submitLimiter: ratelimit.NewLimiter(limit.Window, limit.MaxHits),
	}
}

// NewController builds the query controller for one view
func (s *Services) NewController(opts query.Options) *query.Controller {
	return query.NewController(s.kbService, opts)
}

// AllowQuestion reports whether the view may submit another question now
func (s *Services) AllowQuestion(viewID string) bool {
	if !s.submitLimit.Enabled {
		return true
	}
	return s.submitLimiter.Allow(viewID)
}

// ForgetView drops the rate-limit state of a closed view
func (s *Services) ForgetView(viewID string) {
	s.submitLimiter.Forget(viewID)
}

// GetKBService returns the knowledge-base client
func (s *Services) GetKBService() *kb.Service {
	return s.kbService
}

// GetLoader returns the protected resource loader
func (s *Services) GetLoader() *resource.Loader {
	return s.loader
}

// Close releases external connections
func (s *Services) Close() error {
	if s.redisService != nil {
		return s.redisService.Close()
	}
	return nil
}

// GetCredentialService returns the credential source
func (s *Services) GetCredentialService() *credentials.Service {
	return s.credentialService
}
