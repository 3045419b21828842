package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/store"
	"github.com/sentinelops/fleetsync/internal/upload"
)

// MaxAnswersSize caps the encoded answers of one submission. The log
// service refuses larger request bodies.
const MaxAnswersSize = 512 << 10

// ErrInvalidSubmission is returned by Router.Submit for a log that could
// never be delivered. Nothing is queued.
var ErrInvalidSubmission = errors.New("invalid submission")

// SubmitResult is the outcome of Router.Submit. Exactly one of Delivered
// and Queued is true.
type SubmitResult struct {
	Delivered bool
	Queued    bool
	Log       *models.StoredLog // set when Delivered
	PendingID string            // client id; the queue key when Queued
	Err       error             // delivery error that caused queueing, if any
}

// Router accepts freshly authored logs and either delivers them directly
// or parks them in the local queue. It does not take the Coordinator's
// in-flight guard: it only inserts new records, which a running sync
// neither lists nor removes.
type Router struct {
	queue   store.Queue
	conn    Connectivity
	deliver *deliverer
	logger  *slog.Logger
	timeout time.Duration

	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// NewRouter creates a router. A nil logger uses slog.Default().
func NewRouter(queue store.Queue, svc remote.LogService, uploader upload.Uploader, conn Connectivity, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		queue:    queue,
		conn:     conn,
		deliver:  &deliverer{svc: svc, uploader: uploader, logger: logger},
		logger:   logger,
		timeout:  DefaultRecordTimeout,
		validate: validator.New(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetTimeout bounds the direct delivery attempt, operator lookup
// included. Non-positive values are ignored.
func (r *Router) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Submit routes one submission. The only errors returned are validation
// failures and local storage failures; remote trouble ends in the queue.
func (r *Router) Submit(ctx context.Context, sub *models.Submission) (*SubmitResult, error) {
	if sub == nil {
		return nil, fmt.Errorf("submit: nil submission")
	}
	if err := r.validate.Struct(sub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	if len(sub.Data) > MaxAnswersSize {
		return nil, fmt.Errorf("%w: answers are %d bytes, limit is %d",
			ErrInvalidSubmission, len(sub.Data), MaxAnswersSize)
	}
	hours := sub.HoursReading()
	if hours < 0 {
		return nil, fmt.Errorf("%w: negative hour meter reading %g", ErrInvalidSubmission, hours)
	}

	rec := &models.PendingLog{
		ID:           r.newID(),
		AssetID:      sub.AssetID,
		Type:         sub.Type,
		HoursReading: hours,
		Answers:      sub.Data,
		GPSLocation:  sub.GPS(),
		CreatedAt:    r.now().UnixMilli(),
		Photo:        sub.Photo,
	}
	if rec.Type == "" {
		rec.Type = models.SubmissionInspection
	}

	if !r.conn.Online() {
		r.logger.Info("offline, log queued", "id", rec.ID, "asset_id", rec.AssetID)
		return r.enqueue(ctx, rec, nil)
	}

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec.OperatorID = r.deliver.currentOperator(dctx)

	stored, err := r.deliver.deliver(dctx, rec)
	if err != nil {
		r.logger.Warn("direct delivery failed, log queued",
			"id", rec.ID, "asset_id", rec.AssetID, "error", err)
		return r.enqueue(ctx, rec, err)
	}

	r.deliver.updateHours(dctx, rec)
	r.logger.Info("log delivered", "id", rec.ID, "asset_id", rec.AssetID, "log_id", stored.ID)
	return &SubmitResult{Delivered: true, Log: stored, PendingID: rec.ID}, nil
}

func (r *Router) enqueue(ctx context.Context, rec *models.PendingLog, cause error) (*SubmitResult, error) {
	if err := r.queue.Add(ctx, rec); err != nil {
		return nil, fmt.Errorf("queue log %s: %w", rec.ShortID(), err)
	}
	return &SubmitResult{Queued: true, PendingID: rec.ID, Err: cause}, nil
}
