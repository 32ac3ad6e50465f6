package federation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober is the background liveness loop. One runs per controller
// process while the cluster is federated. Each pass takes the roster
// read lock, reopens dead sibling connections, and pings the live ones;
// the lock is released before the next sleep so membership changes are
// never starved. There is no retry backoff: the fixed interval is the
// retry period.
type Prober struct {
	mgr      *Manager
	interval time.Duration
	stopWait time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newProber(mgr *Manager, interval, stopWait time.Duration, log *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if stopWait <= 0 {
		stopWait = 2 * time.Second
	}
	return &Prober{
		mgr:      mgr,
		interval: interval,
		stopWait: stopWait,
		log:      log.With(zap.String("component", "fed_ping")),
	}
}

// Start launches the probe loop. A no-op while already running.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.run(ctx, done)
	p.log.Debug("probe loop started")
}

// Stop signals the loop without waiting for it to exit. Safe to call
// while holding the roster write lock: the running pass may be blocked
// on the read lock, so joining here would deadlock.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// StopWait signals the loop and waits up to the configured bound for it
// to exit. Must not be called with the roster write lock held.
func (p *Prober) StopWait() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	done := p.done
	p.done = nil
	p.mu.Unlock()

	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(p.stopWait):
		p.log.Warn("probe loop did not exit in time, detaching")
	}
}

// Running reports whether the loop is currently started.
func (p *Prober) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Prober) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		p.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pass probes every non-self sibling once under the roster read lock.
func (p *Prober) pass(ctx context.Context) {
	m := p.mgr

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.siblings {
		if ctx.Err() != nil {
			return
		}
		if rec.IsSelf {
			continue
		}
		if !rec.Connected() {
			m.pool.Open(ctx, rec)
		}
		if !rec.Connected() {
			continue
		}
		if err := m.pool.Ping(ctx, rec); err != nil {
			p.log.Error("failed to ping sibling",
				zap.String("cluster", rec.Name),
				zap.String("host", rec.Host),
				zap.Int("port", rec.Port),
				zap.Error(err))
		} else {
			p.log.Debug("pinged sibling", zap.String("cluster", rec.Name))
		}
	}
}
