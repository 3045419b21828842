package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/store"
	"github.com/sentinelops/fleetsync/internal/upload"
)

// DefaultRecordTimeout bounds a single record's delivery attempt.
const DefaultRecordTimeout = 30 * time.Second

// SyncResult contains the outcome of one sync run.
type SyncResult struct {
	Delivered int
	Evicted   int
	Retained  int
}

// Empty reports whether the run touched no record.
func (r *SyncResult) Empty() bool {
	return r.Delivered == 0 && r.Evicted == 0 && r.Retained == 0
}

// SyncProgress is called after each record is processed.
type SyncProgress func(current, total int, rec *models.PendingLog, outcome string)

// EngineOptions configures an Engine.
type EngineOptions struct {
	RecordTimeout time.Duration
	Progress      SyncProgress
	Logger        *slog.Logger
}

// Engine drains the local queue into the remote log service.
type Engine struct {
	queue    store.Queue
	conn     Connectivity
	deliver  *deliverer
	timeout  time.Duration
	progress SyncProgress
	logger   *slog.Logger
}

// NewEngine creates a sync engine.
func NewEngine(queue store.Queue, svc remote.LogService, uploader upload.Uploader, conn Connectivity, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RecordTimeout
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(int, int, *models.PendingLog, string) {}
	}
	return &Engine{
		queue:    queue,
		conn:     conn,
		deliver:  &deliverer{svc: svc, uploader: uploader, logger: logger},
		timeout:  timeout,
		progress: progress,
		logger:   logger,
	}
}

// Run attempts every pending record once, strictly one at a time.
// Callers must not run two Runs concurrently; Coordinator enforces that.
// The only error returned is a failure to list the queue.
func (e *Engine) Run(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}
	if !e.conn.Online() {
		return result, nil
	}

	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending logs: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	e.logger.Info("sync started", "pending", len(pending))

	// Resolved lazily, once per run, for records queued without one.
	var fallbackOperator *string

	for i, rec := range pending {
		if ctx.Err() != nil || !e.conn.Online() {
			result.Retained += len(pending) - i
			e.logger.Info("sync interrupted", "remaining", len(pending)-i)
			break
		}

		if rec.OperatorID == "" {
			if fallbackOperator == nil {
				opCtx, cancel := context.WithTimeout(ctx, e.timeout)
				op := e.deliver.currentOperator(opCtx)
				cancel()
				fallbackOperator = &op
			}
			rec.OperatorID = *fallbackOperator
		}

		outcome := e.process(ctx, rec, result)
		e.progress(i+1, len(pending), rec, outcome)
	}

	e.logger.Info("sync finished",
		"delivered", result.Delivered, "evicted", result.Evicted, "retained", result.Retained)
	return result, nil
}

// process delivers one record and applies the outcome to the queue.
func (e *Engine) process(ctx context.Context, rec *models.PendingLog, result *SyncResult) string {
	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stored, err := e.deliver.deliver(rctx, rec)
	if err == nil {
		e.deliver.updateHours(rctx, rec)
		if rmErr := e.queue.Remove(ctx, rec.ID); rmErr != nil {
			// The next run resubmits with the same idempotency key.
			e.logger.Error("delivered log not removed from queue", "id", rec.ID, "error", rmErr)
		}
		result.Delivered++
		e.logger.Debug("log delivered", "id", rec.ID, "log_id", stored.ID)
		return "delivered"
	}

	if Classify(err) == Permanent {
		if rmErr := e.queue.Remove(ctx, rec.ID); rmErr != nil {
			e.logger.Error("evicted log not removed from queue", "id", rec.ID, "error", rmErr)
		}
		result.Evicted++
		e.logger.Warn("log evicted",
			"event", "evicted", "id", rec.ID, "asset_id", rec.AssetID, "reason", err.Error())
		return "evicted"
	}

	result.Retained++
	e.logger.Info("log retained", "id", rec.ID, "asset_id", rec.AssetID, "error", err)
	return "retained"
}
