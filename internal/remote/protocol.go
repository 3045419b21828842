// Package remote defines the wire types and clients for the fleet log service.
package remote

import (
	"encoding/json"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
)

// IdempotencyHeader carries the client-chosen key that collapses repeated
// log submissions server-side.
const IdempotencyHeader = "Idempotency-Key"

// Error codes returned in ErrorResponse.Error.
const (
	CodeBadRequest        = "bad_request"
	CodeInvalidReference  = "invalid_reference"
	CodeReferenceNotFound = "reference_not_found"
	CodeInvalidLog        = "invalid_log"
	CodeTooLarge          = "too_large"
	CodeNotFound          = "not_found"
	CodeUnauthorized      = "unauthorized"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// SubmitLogRequest is the body of POST /api/v1/logs.
type SubmitLogRequest struct {
	AssetID      string                `json:"asset_id" validate:"required"`
	OperatorID   *string               `json:"operator_id"`
	Type         models.SubmissionType `json:"type" validate:"required"`
	HoursReading float64               `json:"hours_reading" validate:"gte=0"`
	Answers      json.RawMessage       `json:"answers,omitempty"`
	PhotoURL     string                `json:"photo_url,omitempty"`
	GPSLocation  *models.GPSLocation   `json:"gps_location,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// HoursUpdateRequest is the body of PATCH /api/v1/assets/{id}/hours.
type HoursUpdateRequest struct {
	Hours float64 `json:"hours" validate:"gte=0"`
}

// PhotoUploadResponse is returned by PUT /api/v1/photos/{object}.
type PhotoUploadResponse struct {
	URL string `json:"url"`
}

// CreateAssetRequest is the body of POST /api/v1/assets.
type CreateAssetRequest struct {
	ID           string             `json:"id,omitempty" validate:"omitempty,uuid"`
	Name         string             `json:"name" validate:"required"`
	InternalID   string             `json:"internal_id" validate:"required"`
	Category     string             `json:"category,omitempty"`
	Brand        string             `json:"brand,omitempty"`
	Model        string             `json:"model,omitempty"`
	CurrentHours float64            `json:"current_hours" validate:"gte=0"`
	Status       models.AssetStatus `json:"status,omitempty" validate:"omitempty,oneof=active warning down maintenance offline"`
	Location     string             `json:"location,omitempty"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}
