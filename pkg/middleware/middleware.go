package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/log"
)

type contextKey int

const (
	ctxRawBody contextKey = iota
	ctxAuthAppID
)

// SecretSource resolves a tenant's API secret. An empty secret means the
// app is unknown or disabled; the two are indistinguishable here.
type SecretSource interface {
	GetAPISecret(id string) (string, error)
}

// NonceConsumer records a (tenant, nonce) pair at most once per window.
type NonceConsumer interface {
	ConsumeNonce(appID, nonce string, now, expiresAt time.Time) (bool, error)
}

// Options configures the admission chain.
type Options struct {
	RequireHTTPS bool
	TrustProxy   bool

	AllowlistEnabled bool
	AllowedIPs       []string

	RateWindow time.Duration
	RateMax    int

	BodyLimit int64

	RequireAuth bool
	RequireHMAC bool
	HMACWindow  time.Duration

	Secrets SecretSource
	Nonces  NonceConsumer

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Chain holds the admission middleware state shared across requests.
type Chain struct {
	opts    Options
	allowed map[string]struct{}
	limiter *RateLimiter
}

// New creates the admission chain.
func New(opts Options) *Chain {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	allowed := make(map[string]struct{}, len(opts.AllowedIPs))
	for _, ip := range opts.AllowedIPs {
		allowed[normalizeIP(ip)] = struct{}{}
	}
	return &Chain{
		opts:    opts,
		allowed: allowed,
		limiter: NewRateLimiter(opts.RateWindow, opts.RateMax, opts.Now),
	}
}

// Limiter exposes the rate limiter for sweeper wiring.
func (c *Chain) Limiter() *RateLimiter {
	return c.limiter
}

// RawBody returns the exact request bytes captured by CaptureBody.
func RawBody(r *http.Request) []byte {
	raw, _ := r.Context().Value(ctxRawBody).([]byte)
	return raw
}

// AuthAppID returns the app id resolved by API-key authentication, if any.
func AuthAppID(r *http.Request) string {
	id, _ := r.Context().Value(ctxAuthAppID).(string)
	return id
}

// WithAuthAppID stamps the authenticated tenant on the request. Auth stages
// call this once the caller's credential has been verified.
func WithAuthAppID(r *http.Request, appID string) *http.Request {
	return withValue(r, ctxAuthAppID, appID)
}

// SecurityHeaders sets the unconditional response headers.
func (c *Chain) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-site")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		next.ServeHTTP(w, r)
	})
}

// EnforceHTTPS rejects plaintext requests unless the trusted proxy reports
// a TLS origin.
func (c *Chain) EnforceHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.opts.RequireHTTPS || c.isTLS(r) {
			next.ServeHTTP(w, r)
			return
		}
		httperr.Write(w, httperr.Forbidden("HTTPS required"))
	})
}

func (c *Chain) isTLS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if !c.opts.TrustProxy {
		return false
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.TrimSpace(proto) == "https"
}

// IPAllowlist enforces exact membership of the client IP.
func (c *Chain) IPAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.opts.AllowlistEnabled {
			next.ServeHTTP(w, r)
			return
		}
		ip := c.ClientIP(r)
		if _, ok := c.allowed[ip]; !ok {
			log.Logger.Warn().Str("component", "admission").Str("ip", ip).Msg("IP not allowed")
			httperr.Write(w, httperr.Forbidden("IP not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client address, honoring X-Forwarded-For only when
// the proxy is trusted. IPv4-mapped IPv6 addresses normalize to IPv4.
func (c *Chain) ClientIP(r *http.Request) string {
	if c.opts.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return normalizeIP(strings.TrimSpace(parts[0]))
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeIP(r.RemoteAddr)
	}
	return normalizeIP(host)
}

func normalizeIP(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}

func withValue(r *http.Request, key contextKey, value any) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), key, value))
}
