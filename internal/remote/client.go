package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelops/fleetsync/internal/models"
)

// ErrInvalidReference is returned by SubmitLog when the asset id cannot
// name a remote asset. Retrying never helps.
var ErrInvalidReference = errors.New("invalid asset id (UUID required)")

// LogService is the remote system of record for inspection logs.
type LogService interface {
	// SubmitLog inserts a log. Calls sharing an idempotency key create at
	// most one remote log; the replay returns the original.
	SubmitLog(ctx context.Context, req *SubmitLogRequest, idempotencyKey string) (*models.StoredLog, error)

	// UpdateAssetHours sets the asset's current hour meter.
	UpdateAssetHours(ctx context.Context, assetID string, hours float64) error

	// UploadPhoto stores a binary under objectName and returns its public URL.
	UploadPhoto(ctx context.Context, objectName, contentType string, data []byte) (string, error)

	// CurrentOperator resolves the operator behind the configured credentials.
	CurrentOperator(ctx context.Context) (*models.Operator, error)

	// Ping reports whether the service is reachable.
	Ping(ctx context.Context) error
}

// DefaultRequestTimeout bounds one HTTP exchange, body transfer included.
const DefaultRequestTimeout = 2 * time.Minute

// HTTPClient implements LogService over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ LogService = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTP-based log service client.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
}

func (c *HTTPClient) apiURL(path string) string {
	return c.baseURL + "/api/v1" + path
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody interface{}, extra map[string]string) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range extra {
		headers[k] = v
	}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// SubmitLog posts a log. A non-UUID asset id fails with ErrInvalidReference
// before any request is made; a non-UUID operator id is sent as null.
func (c *HTTPClient) SubmitLog(ctx context.Context, req *SubmitLogRequest, idempotencyKey string) (*models.StoredLog, error) {
	if !IsUUID(req.AssetID) {
		return nil, fmt.Errorf("submit log for asset %q: %w", req.AssetID, ErrInvalidReference)
	}

	body := *req
	if body.OperatorID != nil && !IsUUID(*body.OperatorID) {
		body.OperatorID = nil
	}

	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{IdempotencyHeader: idempotencyKey}
	}

	var stored models.StoredLog
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL("/logs"), &body, &stored, headers); err != nil {
		return nil, fmt.Errorf("submit log: %w", err)
	}
	return &stored, nil
}

// UpdateAssetHours sets the hour meter of an asset.
func (c *HTTPClient) UpdateAssetHours(ctx context.Context, assetID string, hours float64) error {
	req := &HoursUpdateRequest{Hours: hours}
	if err := c.doJSON(ctx, http.MethodPatch, c.apiURL("/assets/"+url.PathEscape(assetID)+"/hours"), req, nil, nil); err != nil {
		return fmt.Errorf("update hours of asset %s: %w", assetID, err)
	}
	return nil
}

// UploadPhoto sends the raw bytes to the server's photo store.
func (c *HTTPClient) UploadPhoto(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{"Content-Type": contentType}

	resp, err := c.do(ctx, http.MethodPut, c.apiURL("/photos/"+escapeObject(objectName)), bytes.NewReader(data), headers)
	if err != nil {
		return "", fmt.Errorf("upload photo %s: %w", objectName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}

	var out PhotoUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return out.URL, nil
}

// CurrentOperator returns the operator the token belongs to.
func (c *HTTPClient) CurrentOperator(ctx context.Context) (*models.Operator, error) {
	var op models.Operator
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/me"), nil, &op, nil); err != nil {
		return nil, fmt.Errorf("get current operator: %w", err)
	}
	return &op, nil
}

// Ping checks the health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &RemoteError{Code: "unhealthy", Message: "health check failed", Status: resp.StatusCode}
	}
	return nil
}

// IsUUID reports whether s is a canonical 8-4-4-4-12 hex UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// escapeObject escapes each path segment of an object name.
func escapeObject(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// HasCode reports whether err carries a RemoteError with one of the codes.
func HasCode(err error, codes ...string) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	for _, c := range codes {
		if re.Code == c {
			return true
		}
	}
	return false
}

func decodeError(resp *http.Response) error {
	re := &RemoteError{
		Code:       "unknown",
		Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		re.Code = errResp.Error
		re.Message = errResp.Message
	}
	return re
}

// parseRetryAfter accepts the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
