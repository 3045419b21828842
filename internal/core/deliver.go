package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/upload"
)

// ErrPhotoUpload wraps any failure to store a record's photo. The raw
// photo stays queued, so these never evict.
var ErrPhotoUpload = errors.New("photo upload failed")

// deliverer performs one delivery attempt of a log. The router and the
// sync engine share it so both paths build identical requests.
type deliverer struct {
	svc      remote.LogService
	uploader upload.Uploader
	logger   *slog.Logger
}

// currentOperator resolves the operator behind the credentials, or ""
// when it cannot be resolved.
func (d *deliverer) currentOperator(ctx context.Context) string {
	op, err := d.svc.CurrentOperator(ctx)
	if err != nil || op == nil {
		d.logger.Debug("operator not resolved", "error", err)
		return ""
	}
	return op.ID
}

// deliver uploads the photo if present and submits the log with the
// record id as idempotency key.
func (d *deliverer) deliver(ctx context.Context, rec *models.PendingLog) (*models.StoredLog, error) {
	var photoURL string
	if rec.Photo != nil && len(rec.Photo.Data) > 0 {
		url, err := d.uploader.Upload(ctx, rec.AssetID, rec.ID, rec.Photo)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPhotoUpload, err)
		}
		photoURL = url
	}

	req := &remote.SubmitLogRequest{
		AssetID:      rec.AssetID,
		Type:         rec.Type,
		HoursReading: rec.HoursReading,
		Answers:      rec.Answers,
		PhotoURL:     photoURL,
		GPSLocation:  rec.GPSLocation,
		CreatedAt:    rec.CreatedTime(),
	}
	if rec.OperatorID != "" {
		op := rec.OperatorID
		req.OperatorID = &op
	}

	stored, err := d.svc.SubmitLog(ctx, req, rec.ID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// updateHours pushes a positive hour meter reading to the asset. Failure
// is logged and otherwise ignored.
func (d *deliverer) updateHours(ctx context.Context, rec *models.PendingLog) {
	if rec.HoursReading <= 0 {
		return
	}
	if err := d.svc.UpdateAssetHours(ctx, rec.AssetID, rec.HoursReading); err != nil {
		d.logger.Warn("asset hours not updated",
			"asset_id", rec.AssetID, "hours", rec.HoursReading, "error", err)
	}
}
