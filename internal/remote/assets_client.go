package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sentinelops/fleetsync/internal/models"
)

// Fleet directory calls. They are not part of LogService: the sync path
// never reads assets, only the CLI does.

// ListAssets calls GET /api/v1/assets.
func (c *HTTPClient) ListAssets(ctx context.Context) ([]*models.Asset, error) {
	var assets []*models.Asset
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/assets"), nil, &assets, nil); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

// CreateAsset calls POST /api/v1/assets and returns the stored asset.
func (c *HTTPClient) CreateAsset(ctx context.Context, req *CreateAssetRequest) (*models.Asset, error) {
	var asset models.Asset
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL("/assets"), req, &asset, nil); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return &asset, nil
}

// ListAssetLogs calls GET /api/v1/assets/{id}/logs, newest first.
func (c *HTTPClient) ListAssetLogs(ctx context.Context, assetID string) ([]*models.StoredLog, error) {
	var logs []*models.StoredLog
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/assets/"+url.PathEscape(assetID)+"/logs"), nil, &logs, nil); err != nil {
		return nil, fmt.Errorf("list logs of asset %s: %w", assetID, err)
	}
	return logs, nil
}
