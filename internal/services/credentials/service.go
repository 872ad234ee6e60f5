package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential      = errors.New("not signed in: no API token configured")
	ErrCredentialExpired = errors.New("session expired: API token is past its expiry")
)

// Claims are the parts of the backend's access token this client looks at
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Service hands out the bearer credential for knowledge-base calls. The token
// is issued elsewhere; this client only inspects it so an expired session is
// refused before a request is made.
type Service struct {
	token func() string
	now   func() time.Time
}

func NewService() *Service {
	return &Service{
		token: config.GetAPIToken,
		now:   time.Now,
	}
}

// NewStaticService serves a fixed token
func NewStaticService(token string) *Service {
	return &Service{
		token: func() string { return token },
		now:   time.Now,
	}
}

// Token returns the bearer credential, or ErrNoCredential / ErrCredentialExpired.
// Opaque (non-JWT) tokens are passed through untouched.
func (s *Service) Token(ctx context.Context) (string, error) {
	token := strings.TrimSpace(s.token())
	if token == "" {
		return "", ErrNoCredential
	}

	claims, err := parseUnverified(token)
	if err != nil {
		log := logger.For(logger.KB)
		log.Debug().
			Err(err).
			Msg("API token is not a JWT - using it as an opaque credential")
		return token, nil
	}

	if claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time) {
		log := logger.For(logger.KB)
		log.Warn().
			Str("subject", claims.Subject).
			Time("expires_at", claims.ExpiresAt.Time).
			Msg("API token has expired")
		return "", ErrCredentialExpired
	}

	return token, nil
}

// Claims returns the decoded claims of the configured token. The signature is
// not checked; the backend does that.
func (s *Service) Claims() (*Claims, error) {
	token := strings.TrimSpace(s.token())
	if token == "" {
		return nil, ErrNoCredential
	}
	return parseUnverified(token)
}

func parseUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
