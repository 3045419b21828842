package core

import (
	"errors"

	"github.com/sentinelops/fleetsync/internal/remote"
)

// FailureClass tells the sync engine what to do with a record whose
// delivery failed.
type FailureClass int

const (
	// Transient failures leave the record queued for the next run.
	Transient FailureClass = iota
	// Permanent failures can never succeed; the record is evicted.
	Permanent
)

func (c FailureClass) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Classify maps a delivery error to a FailureClass. A log the server
// rejects as an unknown reference, an invalid record or an oversized body
// is permanent. Network faults, timeouts, server errors, auth errors and
// photo upload failures all stay transient.
func Classify(err error) FailureClass {
	if err == nil {
		return Transient
	}
	if errors.Is(err, ErrPhotoUpload) {
		return Transient
	}
	if errors.Is(err, remote.ErrInvalidReference) {
		return Permanent
	}
	if remote.HasCode(err,
		remote.CodeInvalidReference,
		remote.CodeReferenceNotFound,
		remote.CodeInvalidLog,
		remote.CodeTooLarge,
	) {
		return Permanent
	}
	return Transient
}
