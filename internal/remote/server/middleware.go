// Package server implements the reference fleet log service: HTTP handlers,
// middleware, token storage and webhooks.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
)

type contextKey string

const (
	contextKeyRequest  contextKey = "request"
	contextKeyOperator contextKey = "operator"
)

// requestInfo is shared by every middleware layer of one request. Inner
// layers fill it in so outer layers can log what they learned.
type requestInfo struct {
	id         string
	tokenID    string
	operatorID string
}

func requestFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(contextKeyRequest).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// TokenInfo holds the metadata for an authenticated token. Each token
// belongs to exactly one operator.
type TokenInfo struct {
	ID         string          `json:"id"`
	TokenHash  string          `json:"token_hash"`
	Desc       string          `json:"description"`
	Operator   models.Operator `json:"operator"`
	LastUsedAt *time.Time      `json:"last_used_at,omitempty"`
}

// TokenStore is the interface for managing authentication tokens.
type TokenStore interface {
	GetByHash(hash string) (*TokenInfo, error)
	UpdateLastUsed(id string) error
	ListTokens() ([]*TokenInfo, error)
	DeleteToken(id string) error
	CreateToken(desc string, operator models.Operator) (rawToken string, info *TokenInfo, err error)
}

// operatorFrom returns the operator bound to the request's token.
func operatorFrom(ctx context.Context) (models.Operator, bool) {
	op, ok := ctx.Value(contextKeyOperator).(models.Operator)
	return op, ok
}

// requestIDMiddleware assigns the request id. A client-supplied
// X-Request-ID is kept when it is a UUID so retries can be correlated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKeyRequest, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs one line per request. Server errors are logged at
// warn so they stand out from normal traffic.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			info := requestFrom(r.Context())
			level := slog.LevelInfo
			if rw.status() >= 500 {
				level = slog.LevelWarn
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status(),
				"bytes", rw.written,
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", info.id,
			}
			if info.operatorID != "" {
				attrs = append(attrs, "operator_id", info.operatorID)
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// recoveryMiddleware turns a panic into a 500 unless a response was already started.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "error", rec, "path", r.URL.Path, "request_id", requestFrom(r.Context()).id)
					if rw.statusCode == 0 {
						writeError(rw, http.StatusInternalServerError, remote.CodeInternal, "internal server error")
					}
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authMiddleware resolves the bearer token to its operator.
func authMiddleware(tokens TokenStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		// bounds concurrent last-used writes
		sem := make(chan struct{}, 20)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "missing or invalid Authorization header")
				return
			}

			info, err := tokens.GetByHash(HashToken(raw))
			if err != nil || info == nil {
				writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "invalid token")
				return
			}

			select {
			case sem <- struct{}{}:
				go func(id string) {
					defer func() { <-sem }()
					if err := tokens.UpdateLastUsed(id); err != nil {
						logger.Warn("failed to update token last_used_at", "error", err, "token_id", id)
					}
				}(info.ID)
			default:
			}

			req := requestFrom(r.Context())
			req.tokenID = info.ID
			req.operatorID = info.Operator.ID

			ctx := context.WithValue(r.Context(), contextKeyOperator, info.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimiter is a fixed one-minute window per token, falling back to the
// client address on routes without authentication.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	now     func() time.Time
	done    chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		windows: make(map[string]*window),
		limit:   requestsPerMinute,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictExpired()
		case <-rl.done:
			return
		}
	}
}

func (rl *rateLimiter) evictExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, w := range rl.windows {
		if now.After(w.resetAt) {
			delete(rl.windows, k)
		}
	}
}

func (rl *rateLimiter) Stop() {
	close(rl.done)
}

// allow counts one request for key and reports whether it is within the
// limit, and if not how long until the window resets.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	win, ok := rl.windows[key]
	if !ok || now.After(win.resetAt) {
		win = &window{resetAt: now.Add(time.Minute)}
		rl.windows[key] = win
	}
	win.count++
	if win.count > rl.limit {
		return false, win.resetAt.Sub(now)
	}
	return true, 0
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := requestFrom(r.Context()).tokenID
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = "addr:" + host
		}

		ok, wait := rl.allow(key)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, remote.CodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.statusCode == 0 {
		rw.statusCode = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) status() int {
	if rw.statusCode == 0 {
		return http.StatusOK
	}
	return rw.statusCode
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HashToken returns the SHA256 hex digest of a raw token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
