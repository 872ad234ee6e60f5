package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/pkg/httpext"
	"github.com/deepgram/kbquery/pkg/ratelimit"
	"github.com/rs/zerolog/log"
)

func RateLimit(limitKey string) func(http.Handler) http.Handler {
	cfg := config.GetRateLimitConfig(limitKey)
	limiter := ratelimit.NewLimiter(cfg.Window, cfg.MaxHits)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if !limiter.Allow(ip) {
				log.Warn().
					Str("client", ip).
					Str("limit", limitKey).
					Msg("Rate limit exceeded")
				httpext.JsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP uses the first X-Forwarded-For hop if behind a proxy, otherwise the remote address
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
