package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Submission is a freshly authored log handed to the submission router.
// Data is opaque to the sync subsystem apart from the two fields read by
// HoursReading and GPS.
type Submission struct {
	AssetID  string          `json:"asset_id" validate:"required"`
	Type     SubmissionType  `json:"type"`
	Data     json.RawMessage `json:"data"`
	Location string          `json:"location,omitempty"`
	Photo    *Photo          `json:"-"`
}

// submissionKeys picks the few keys of Data the router needs.
type submissionKeys struct {
	Items struct {
		Horometer json.RawMessage `json:"horometer"`
	} `json:"items"`
	Location *GPSLocation `json:"location"`
}

func (s *Submission) keys() submissionKeys {
	var p submissionKeys
	if len(s.Data) == 0 {
		return p
	}
	// Data that is not an object (e.g. a list of answers) has neither field.
	_ = json.Unmarshal(s.Data, &p)
	return p
}

// HoursReading returns data.items.horometer as a number, or 0 if absent
// or not numeric. Both JSON numbers and numeric strings are accepted.
func (s *Submission) HoursReading() float64 {
	raw := s.keys().Items.Horometer
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return 0
	}
	return n
}

// GPS returns data.location when present, otherwise the Location string
// parsed as "lat,lng". Returns nil when neither yields a position.
func (s *Submission) GPS() *GPSLocation {
	if loc := s.keys().Location; loc != nil {
		return loc
	}
	return ParseLocation(s.Location)
}

// ParseLocation parses "lat,lng" (whitespace tolerated). Returns nil on
// any malformed input.
func ParseLocation(v string) *GPSLocation {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	return &GPSLocation{Lat: lat, Lng: lng}
}
