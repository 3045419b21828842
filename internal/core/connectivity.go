package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Connectivity reports whether the remote service is believed reachable
// and announces offline-to-online transitions.
type Connectivity interface {
	Online() bool
	// Subscribe returns a channel that receives one value per transition to
	// online, and a function that cancels the subscription.
	Subscribe() (<-chan struct{}, func())
}

// Signal is a settable Connectivity.
type Signal struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan struct{}
	nextID int
}

var _ Connectivity = (*Signal)(nil)

// NewSignal creates a Signal with the given initial state.
func NewSignal(online bool) *Signal {
	return &Signal{online: online, subs: make(map[int]chan struct{})}
}

// Online returns the current state.
func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the state and notifies subscribers when it flips to online.
// It reports whether a transition to online happened.
func (s *Signal) Set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	became := online && !s.online
	s.online = online
	if became {
		for _, ch := range s.subs {
			// A pending notification already covers this one.
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	return became
}

// Subscribe registers for "became online" notifications.
func (s *Signal) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Pinger is the health check a Prober drives.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls a Pinger and mirrors the result into a Signal.
type Prober struct {
	pinger   Pinger
	signal   *Signal
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProber creates a prober. A zero interval defaults to ten seconds.
func NewProber(pinger Pinger, signal *Signal, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Prober{pinger: pinger, signal: signal, interval: interval, timeout: timeout, logger: logger}
}

// Probe pings once and updates the signal. Returns the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pctx)
	online := err == nil
	wasOnline := p.signal.Online()
	p.signal.Set(online)

	switch {
	case online && !wasOnline:
		p.logger.Info("connectivity restored")
	case !online && wasOnline:
		p.logger.Info("connectivity lost", "error", err)
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
