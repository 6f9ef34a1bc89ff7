package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Info("HTTP request")
		})
	}
}

// clientIdleTTL is how long an idle client's bucket is kept.
const clientIdleTTL = 3 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*clientBucket
	lastSweep time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		limit:     limit,
		burst:     burst,
		clients:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
	}
}

func (c *clientLimiter) allow(client string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastSweep) > clientIdleTTL {
		for key, b := range c.clients {
			if now.Sub(b.lastSeen) > clientIdleTTL {
				delete(c.clients, key)
			}
		}
		c.lastSweep = now
	}

	b, ok := c.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// clientAddr strips the port from RemoteAddr. middleware.RealIP has already
// replaced it with the forwarded address when one was sent.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func rateLimit(limiter *clientLimiter, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			if !limiter.allow(client) {
				logger.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"client": client,
				}).Warn("Rate limit exceeded")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate checks HS256 bearer tokens when a signing secret is configured.
// WebSocket clients that cannot set headers may pass access_token instead.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.cfg.Auth.JWTSecret == "" {
		return next
	}

	key := []byte(s.cfg.Auth.JWTSecret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Auth.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := parser.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			s.logger.WithError(err).WithField("path", r.URL.Path).Warn("Rejected API token")
			s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		if sub, _ := token.Claims.GetSubject(); sub != "" {
			s.logger.WithFields(logrus.Fields{
				"subject":    sub,
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("Authenticated request")
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
