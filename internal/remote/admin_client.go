package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
)

// AdminClient talks to the server's /admin endpoints with the admin token.
// It shares HTTPClient's transport but is not a LogService.
type AdminClient struct {
	c *HTTPClient
}

// NewAdminClient creates an admin API client. Warns if baseURL uses http://.
func NewAdminClient(baseURL, adminToken string) *AdminClient {
	if strings.HasPrefix(baseURL, "http://") {
		fmt.Fprintf(os.Stderr, "warning: sending credentials over unencrypted HTTP connection\n")
	}
	c := NewHTTPClient(baseURL, adminToken)
	c.httpClient.Timeout = 30 * time.Second
	return &AdminClient{c: c}
}

func (a *AdminClient) adminURL(path string) string {
	return a.c.baseURL + "/admin" + path
}

// AdminTokenCreateRequest is the body of POST /admin/tokens.
type AdminTokenCreateRequest struct {
	Description  string `json:"description"`
	OperatorID   string `json:"operator_id,omitempty" validate:"omitempty,uuid"`
	OperatorName string `json:"operator_name" validate:"required"`
	OrgID        string `json:"org_id,omitempty"`
}

// AdminTokenCreateResponse is the decoded response from POST /admin/tokens.
type AdminTokenCreateResponse struct {
	Token       string          `json:"token"`
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Operator    models.Operator `json:"operator"`
}

// AdminTokenInfo is one entry in the GET /admin/tokens response.
type AdminTokenInfo struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Operator    models.Operator `json:"operator"`
	LastUsedAt  *time.Time      `json:"last_used_at,omitempty"`
}

// CreateToken issues a token bound to operator. An empty operator id lets
// the server assign one. The raw token is only returned here.
func (a *AdminClient) CreateToken(ctx context.Context, desc string, operator models.Operator) (*AdminTokenCreateResponse, error) {
	req := AdminTokenCreateRequest{
		Description:  desc,
		OperatorID:   operator.ID,
		OperatorName: operator.Name,
		OrgID:        operator.OrgID,
	}
	var resp AdminTokenCreateResponse
	if err := a.c.doJSON(ctx, http.MethodPost, a.adminURL("/tokens"), req, &resp, nil); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

func (a *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	var tokens []AdminTokenInfo
	if err := a.c.doJSON(ctx, http.MethodGet, a.adminURL("/tokens"), nil, &tokens, nil); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (a *AdminClient) DeleteToken(ctx context.Context, id string) error {
	if err := a.c.doJSON(ctx, http.MethodDelete, a.adminURL("/tokens/"+url.PathEscape(id)), nil, nil, nil); err != nil {
		return fmt.Errorf("delete token %s: %w", id, err)
	}
	return nil
}
