package models

import (
	"encoding/json"
	"time"
)

// StoredLog is the canonical server-side record of a delivered log.
// ID and CreatedAt are assigned by the server.
type StoredLog struct {
	ID           string          `json:"id"`
	AssetID      string          `json:"asset_id"`
	OperatorID   string          `json:"operator_id,omitempty"`
	Type         SubmissionType  `json:"type,omitempty"`
	HoursReading float64         `json:"hours_reading"`
	Answers      json.RawMessage `json:"answers,omitempty"`
	PhotoURL     string          `json:"photo_url,omitempty"`
	GPSLocation  *GPSLocation    `json:"gps_location,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Operator identifies the user submitting logs.
type Operator struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	OrgID string `json:"org_id,omitempty"`
}
