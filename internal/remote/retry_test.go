package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, isTransient(nil))
}

func TestIsTransient_ServerError(t *testing.T) {
	err := &RemoteError{Status: 500, Code: "internal_error", Message: "server error"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_TooManyRequests(t *testing.T) {
	err := &RemoteError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_ClientError(t *testing.T) {
	err := &RemoteError{Status: 422, Code: CodeReferenceNotFound, Message: "unknown asset"}
	assert.False(t, isTransient(err))
}

func TestIsTransient_NetworkError(t *testing.T) {
	err := &http.MaxBytesError{Limit: 100}
	assert.True(t, isTransient(err))
}

func TestIsTransient_InvalidReference(t *testing.T) {
	err := fmt.Errorf("submit log: %w", ErrInvalidReference)
	assert.False(t, isTransient(err))
}

func TestIsTransient_ContextErrors(t *testing.T) {
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(fmt.Errorf("execute request: %w", context.DeadlineExceeded)))
}

func TestRetryClient_Backoff(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0, // no jitter for deterministic test
	})

	d0 := rc.backoff(0)
	d1 := rc.backoff(1)
	d2 := rc.backoff(2)

	assert.Equal(t, 100*time.Millisecond, d0)
	assert.Equal(t, 200*time.Millisecond, d1)
	assert.Equal(t, 400*time.Millisecond, d2)
}

func TestRetryClient_BackoffCapped(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.0,
	})

	d := rc.backoff(10)
	assert.Equal(t, 5*time.Second, d)
}

func TestRetryClient_RetrySuccess(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	})

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryClient_RetryExhausted(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	})

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestRetryClient_NoRetryOn4xx(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	})

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		return &RemoteError{Status: 404, Code: "not_found", Message: "not found"}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts) // no retry
}

func TestRetryClient_ContextCancellation(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0,
	})

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := rc.retry(ctx, "test", func() error {
		attempts++
		return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestSleep_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_Normal(t *testing.T) {
	err := sleep(context.Background(), 1*time.Millisecond)
	assert.NoError(t, err)
}

// flakyService fails the first n calls of each method with a 503.
type flakyService struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	keys     []string
}

func (f *flakyService) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	if f.calls[op] <= f.failures {
		return &RemoteError{Status: 503, Code: "unavailable", Message: "try later"}
	}
	return nil
}

func (f *flakyService) SubmitLog(_ context.Context, req *SubmitLogRequest, key string) (*models.StoredLog, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if err := f.hit("submit"); err != nil {
		return nil, err
	}
	return &models.StoredLog{ID: "srv-1", AssetID: req.AssetID}, nil
}

func (f *flakyService) UpdateAssetHours(context.Context, string, float64) error {
	return f.hit("hours")
}

func (f *flakyService) UploadPhoto(_ context.Context, name, _ string, _ []byte) (string, error) {
	if err := f.hit("upload"); err != nil {
		return "", err
	}
	return "https://photos.example/" + name, nil
}

func (f *flakyService) CurrentOperator(context.Context) (*models.Operator, error) {
	if err := f.hit("me"); err != nil {
		return nil, err
	}
	return &models.Operator{ID: "op"}, nil
}

func (f *flakyService) Ping(context.Context) error {
	return f.hit("ping")
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetryClient_SubmitLogReusesIdempotencyKey(t *testing.T) {
	inner := &flakyService{failures: 2}
	rc := NewRetryClient(inner, fastRetry())

	stored, err := rc.SubmitLog(context.Background(), &SubmitLogRequest{AssetID: "a"}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", stored.ID)
	assert.Equal(t, []string{"key-1", "key-1", "key-1"}, inner.keys)
}

func TestRetryClient_UploadPhotoRetried(t *testing.T) {
	inner := &flakyService{failures: 1}
	rc := NewRetryClient(inner, fastRetry())

	url, err := rc.UploadPhoto(context.Background(), "a/1_p.jpg", "image/jpeg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://photos.example/a/1_p.jpg", url)
	assert.Equal(t, 2, inner.calls["upload"])
}

func TestRetryClient_PingNotRetried(t *testing.T) {
	inner := &flakyService{failures: 1}
	rc := NewRetryClient(inner, fastRetry())

	assert.Error(t, rc.Ping(context.Background()))
	assert.Equal(t, 1, inner.calls["ping"])
}

func TestRetryClient_DelayHonorsRetryAfter(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	})

	limited := &RemoteError{Status: 429, Code: CodeRateLimited, RetryAfter: 2 * time.Second}
	assert.Equal(t, 2*time.Second, rc.delay(0, limited))

	limited.RetryAfter = time.Minute
	assert.Equal(t, 5*time.Second, rc.delay(0, limited), "capped at MaxBackoff")

	limited.RetryAfter = 0
	assert.Equal(t, 100*time.Millisecond, rc.delay(0, limited))

	wrapped := fmt.Errorf("submit log: %w", &RemoteError{Status: 503, RetryAfter: time.Second})
	assert.Equal(t, time.Second, rc.delay(0, wrapped))
}

func TestRetryClient_NoRetriesReturnsBareError(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{MaxRetries: 0})
	want := &RemoteError{Status: 503, Code: "unavailable"}

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		return want
	})
	assert.Same(t, want, err)
	assert.Equal(t, 1, attempts)
}

func TestDecodeError_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate_limited","message":"slow down"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "t").CurrentOperator(context.Background())
	require.Error(t, err)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 7*time.Second, re.RetryAfter)
	assert.Equal(t, CodeRateLimited, re.Code)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
