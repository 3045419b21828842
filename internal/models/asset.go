package models

import "time"

// AssetStatus is the operational state of an asset.
type AssetStatus string

const (
	AssetActive      AssetStatus = "active"
	AssetWarning     AssetStatus = "warning"
	AssetDown        AssetStatus = "down"
	AssetMaintenance AssetStatus = "maintenance"
	AssetOffline     AssetStatus = "offline"
)

// Asset is a piece of fleet equipment that logs are recorded against.
type Asset struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	InternalID      string      `json:"internal_id"`
	Category        string      `json:"category"`
	Brand           string      `json:"brand,omitempty"`
	Model           string      `json:"model,omitempty"`
	CurrentHours    float64     `json:"current_hours"`
	Status          AssetStatus `json:"status"`
	Location        string      `json:"location,omitempty"`
	LastServiceDate *time.Time  `json:"last_service_date,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}
