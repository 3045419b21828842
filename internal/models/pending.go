// Package models defines the data structures shared by the offline queue,
// the sync engine and the remote log service: pending logs, stored logs,
// submissions and assets.
package models

import (
	"encoding/json"
	"time"
)

// SubmissionType tags the producer of an answers payload.
type SubmissionType string

const (
	SubmissionInspection      SubmissionType = "inspection"
	SubmissionDraftInspection SubmissionType = "draft_inspection"
)

// GPSLocation is a latitude/longitude pair.
type GPSLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Photo is a raw binary attachment captured with a submission.
// Data is stored out of line by the queue backends.
type Photo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// Size returns the attachment size in bytes.
func (p *Photo) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// PendingLog is an inspection log waiting in the local queue.
// Presence in the queue means the log has not been delivered yet.
type PendingLog struct {
	ID           string          `json:"id"`
	AssetID      string          `json:"asset_id"`
	OperatorID   string          `json:"operator_id,omitempty"`
	Type         SubmissionType  `json:"type,omitempty"`
	HoursReading float64         `json:"hours_reading"`
	Answers      json.RawMessage `json:"answers,omitempty"`
	GPSLocation  *GPSLocation    `json:"gps_location,omitempty"`
	CreatedAt    int64           `json:"created_at"` // epoch milliseconds
	Synced       bool            `json:"synced"`
	Photo        *Photo          `json:"photo,omitempty"`
}

// CreatedTime returns CreatedAt as a time.Time.
func (p *PendingLog) CreatedTime() time.Time {
	return time.UnixMilli(p.CreatedAt)
}

// ShortID returns the first 8 characters of the log ID.
func (p *PendingLog) ShortID() string {
	if len(p.ID) > 8 {
		return p.ID[:8]
	}
	return p.ID
}
