package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a LogService with automatic retry on transient errors.
type RetryClient struct {
	inner  LogService
	config *RetryConfig
}

var _ LogService = (*RetryClient)(nil)

// NewRetryClient creates a RetryClient that wraps the given LogService.
func NewRetryClient(inner LogService, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying right away.
// This is narrower than the sync engine's notion of transient: a 4xx is
// left for the next sync run instead of being hammered here.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidReference) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delay picks the wait before the next attempt. A server Retry-After hint
// wins over the computed backoff but never exceeds MaxBackoff.
func (rc *RetryClient) delay(attempt int, err error) time.Duration {
	d := rc.backoff(attempt)
	var re *RemoteError
	if errors.As(err, &re) && re.RetryAfter > d {
		d = min(re.RetryAfter, rc.config.MaxBackoff)
	}
	return d
}

// retry runs fn until it succeeds, fails permanently, or MaxRetries is spent.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt >= rc.config.MaxRetries {
			break
		}
		if err := sleep(ctx, rc.delay(attempt, lastErr)); err != nil {
			return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
		}
	}
	if rc.config.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Delegate all LogService methods through retry logic ---

// SubmitLog is safe to retry: the idempotency key collapses duplicates.
func (rc *RetryClient) SubmitLog(ctx context.Context, req *SubmitLogRequest, idempotencyKey string) (stored *models.StoredLog, err error) {
	err = rc.retry(ctx, "submit log", func() error {
		stored, err = rc.inner.SubmitLog(ctx, req, idempotencyKey)
		return err
	})
	return
}

func (rc *RetryClient) UpdateAssetHours(ctx context.Context, assetID string, hours float64) error {
	return rc.retry(ctx, "update asset hours", func() error {
		return rc.inner.UpdateAssetHours(ctx, assetID, hours)
	})
}

// UploadPhoto is retried from the same buffered bytes.
func (rc *RetryClient) UploadPhoto(ctx context.Context, objectName, contentType string, data []byte) (url string, err error) {
	err = rc.retry(ctx, "upload photo", func() error {
		url, err = rc.inner.UploadPhoto(ctx, objectName, contentType, data)
		return err
	})
	return
}

func (rc *RetryClient) CurrentOperator(ctx context.Context) (op *models.Operator, err error) {
	err = rc.retry(ctx, "get current operator", func() error {
		op, err = rc.inner.CurrentOperator(ctx)
		return err
	})
	return
}

// Ping is not retried; a failed probe is itself the answer.
func (rc *RetryClient) Ping(ctx context.Context) error {
	return rc.inner.Ping(ctx)
}
