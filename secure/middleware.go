package secure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobuffalo/buffalo"
)

// Options configures the security middleware
type Options struct {
	// DevMode relaxes some features for development
	DevMode bool

	// ContentTypeNosniff sets X-Content-Type-Options header
	ContentTypeNosniff bool

	// FrameOptions sets X-Frame-Options header
	FrameDeny       bool
	FrameSameOrigin bool

	// StrictTransportSecurity sets HSTS header
	STSSeconds           int64
	STSIncludeSubdomains bool

	// ReferrerPolicy sets Referrer-Policy header
	ReferrerPolicy string
}

// DefaultOptions returns secure defaults for a JSON API
func DefaultOptions() Options {
	return Options{
		ContentTypeNosniff: true,
		FrameDeny:          true,
		STSSeconds:         31536000, // 1 year
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
}

// Middleware returns security header middleware for Buffalo
func Middleware(opts Options) buffalo.MiddlewareFunc {
	if !opts.ContentTypeNosniff && !opts.FrameDeny && opts.STSSeconds == 0 {
		opts = DefaultOptions()
	}

	if opts.DevMode {
		opts.FrameDeny = false
		opts.FrameSameOrigin = true
		opts.STSSeconds = 0 // Disable HSTS in dev
	}

	return func(next buffalo.Handler) buffalo.Handler {
		return func(c buffalo.Context) error {
			w := c.Response()

			if opts.ContentTypeNosniff {
				w.Header().Set("X-Content-Type-Options", "nosniff")
			}

			if opts.FrameDeny {
				w.Header().Set("X-Frame-Options", "DENY")
			} else if opts.FrameSameOrigin {
				w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			}

			if !opts.DevMode && opts.STSSeconds > 0 {
				value := fmt.Sprintf("max-age=%d", opts.STSSeconds)
				if opts.STSIncludeSubdomains {
					value += "; includeSubDomains"
				}
				w.Header().Set("Strict-Transport-Security", value)
			}

			if opts.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", opts.ReferrerPolicy)
			}

			w.Header().Set("X-Permitted-Cross-Domain-Policies", "none")

			return next(c)
		}
	}
}

// RateLimitMiddleware provides per-IP rate limiting over a sliding
// one-minute window. State lives in memory; restarts reset it.
func RateLimitMiddleware(requestsPerMinute int) buffalo.MiddlewareFunc {
	var mu sync.Mutex
	clients := make(map[string][]int64)

	return func(next buffalo.Handler) buffalo.Handler {
		return func(c buffalo.Context) error {
			ip := getClientIP(c.Request())

			now := time.Now().UnixMilli()
			windowStart := now - 60000

			mu.Lock()
			var recent []int64
			for _, ts := range clients[ip] {
				if ts > windowStart {
					recent = append(recent, ts)
				}
			}

			if len(recent) >= requestsPerMinute {
				clients[ip] = recent
				mu.Unlock()
				return c.Error(http.StatusTooManyRequests, errRateLimitExceeded)
			}

			clients[ip] = append(recent, now)
			mu.Unlock()

			return next(c)
		}
	}
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// Take the first IP
		if comma := strings.IndexByte(forwarded, ','); comma != -1 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if colon := strings.LastIndexByte(r.RemoteAddr, ':'); colon != -1 {
		return r.RemoteAddr[:colon]
	}
	return r.RemoteAddr
}

var errRateLimitExceeded = errors.New("rate limit exceeded")
