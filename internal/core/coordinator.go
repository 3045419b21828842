package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelops/fleetsync/internal/store"
	"golang.org/x/sync/errgroup"
)

// Trigger names what started a sync run.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerTimer   Trigger = "timer"
	TriggerOnline  Trigger = "online"
	TriggerManual  Trigger = "manual"
)

// DefaultSyncInterval is the periodic trigger period.
const DefaultSyncInterval = 30 * time.Second

// Runner is a sync run; *Engine implements it.
type Runner interface {
	Run(ctx context.Context) (*SyncResult, error)
}

// Ticker abstracts time.Ticker so tests can fire ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Interval  time.Duration
	NewTicker func(time.Duration) Ticker
	// OnSynced is invoked after a run that delivered at least one record.
	OnSynced func(*SyncResult)
	Logger   *slog.Logger
}

// Status is a snapshot for the status badge.
type Status struct {
	Online      bool
	Pending     int
	Running     bool
	LastRun     time.Time
	LastSynced  time.Time // persisted by the queue, so it covers other processes
	LastTrigger Trigger
	LastResult  *SyncResult
	LastError   error
}

// Coordinator owns the single-flight guard around sync runs and turns
// startup, timer, online and manual events into RequestSync calls.
type Coordinator struct {
	runner Runner
	queue  store.Queue
	conn   Connectivity
	opts   CoordinatorOptions
	logger *slog.Logger

	inFlight atomic.Bool

	mu          sync.Mutex
	lastRun     time.Time
	lastTrigger Trigger
	lastResult  *SyncResult
	lastErr     error
}

// NewCoordinator creates a coordinator around runner.
func NewCoordinator(runner Runner, queue store.Queue, conn Connectivity, opts CoordinatorOptions) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{runner: runner, queue: queue, conn: conn, opts: opts, logger: logger}
}

// RequestSync starts a run unless one is already in flight, in which case
// it returns started=false immediately. Overlapping requests are dropped,
// not queued.
func (c *Coordinator) RequestSync(ctx context.Context, trigger Trigger) (*SyncResult, bool, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("sync skipped, run in flight", "trigger", trigger)
		return nil, false, nil
	}
	defer c.inFlight.Store(false)

	result, err := c.runner.Run(ctx)
	finished := time.Now()

	c.mu.Lock()
	c.lastRun = finished
	c.lastTrigger = trigger
	c.lastResult = result
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("sync failed", "trigger", trigger, "error", err)
		return result, true, err
	}
	if m, ok := c.queue.(store.SyncMarker); ok && c.conn.Online() {
		if err := m.MarkSynced(ctx, finished); err != nil {
			c.logger.Warn("record last sync", "error", err)
		}
	}
	if result != nil && result.Delivered > 0 && c.opts.OnSynced != nil {
		c.opts.OnSynced(result)
	}
	return result, true, nil
}

// Running reports whether a run is in flight.
func (c *Coordinator) Running() bool {
	return c.inFlight.Load()
}

// Run issues the startup trigger, then fires on every tick and every
// offline-to-online transition until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	c.RequestSync(ctx, TriggerStartup)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := c.opts.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C():
				c.RequestSync(gctx, TriggerTimer)
			}
		}
	})

	g.Go(func() error {
		events, cancel := c.conn.Subscribe()
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-events:
				c.RequestSync(gctx, TriggerOnline)
			}
		}
	})

	return g.Wait()
}

// Status returns the current badge state. Pending is -1 if the queue
// could not be counted.
func (c *Coordinator) Status(ctx context.Context) Status {
	pending, err := c.queue.Count(ctx, true)
	if err != nil {
		c.logger.Warn("count pending logs", "error", err)
		pending = -1
	}

	var lastSynced time.Time
	if m, ok := c.queue.(store.SyncMarker); ok {
		if lastSynced, err = m.LastSynced(ctx); err != nil {
			c.logger.Warn("read last sync", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Online:      c.conn.Online(),
		Pending:     pending,
		Running:     c.inFlight.Load(),
		LastRun:     c.lastRun,
		LastSynced:  lastSynced,
		LastTrigger: c.lastTrigger,
		LastResult:  c.lastResult,
		LastError:   c.lastErr,
	}
}
