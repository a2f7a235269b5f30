package license

import (
	"log/slog"
	"sync"
	"time"

	apperrors "cardkeyd/internal/errors"
)

// Monitor periodically re-evaluates local trust in the background. The check
// cadence is decomposed into short ticks so Stop is observed within one tick
// rather than one full interval. The monitor never touches the network and
// never terminates the process; on a failed check it invokes the failure
// callback exactly once and exits.
type Monitor struct {
	interval    time.Duration
	tick        time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewMonitor creates a heartbeat monitor. interval is the trust check
// cadence, tick the cancellation granularity, stopTimeout the bounded wait
// of Stop.
func NewMonitor(interval, tick, stopTimeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		interval:    interval,
		tick:        tick,
		stopTimeout: stopTimeout,
		logger:      logger.With(slog.String("component", "heartbeat")),
	}
}

// Start launches the monitor goroutine. Starting a running monitor is a
// no-op; a monitor whose previous run has exited may be started again.
func (m *Monitor) Start(check func() bool, onFailure func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		select {
		case <-m.done:
			// previous run finished, restart below
		default:
			return
		}
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.logger.Info("heartbeat started",
		slog.Duration("interval", m.interval),
		slog.Duration("tick", m.tick))
	go m.run(check, onFailure, m.stopCh, m.done)
}

// Stop asks the monitor goroutine to exit and waits up to the stop timeout.
// A timeout is reported, not swallowed: the caller learns the goroutine may
// still be running.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		m.mu.Lock()
		if m.done == done {
			m.done = nil
		}
		m.mu.Unlock()
		m.logger.Info("heartbeat stopped")
		return nil
	case <-time.After(m.stopTimeout):
		m.logger.Warn("heartbeat did not stop in time", slog.Duration("timeout", m.stopTimeout))
		return apperrors.ErrHeartbeatStopTimeout
	}
}

func (m *Monitor) run(check func() bool, onFailure func(), stopCh, done chan struct{}) {
	defer close(done)

	// first check runs immediately; a login that lands already-expired is
	// caught without waiting a full interval
	if !check() {
		m.logger.Warn("heartbeat found local trust invalid")
		onFailure()
		return
	}

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	next := time.Now().Add(m.interval)
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			if !check() {
				m.logger.Warn("heartbeat found local trust invalid")
				onFailure()
				return
			}
			next = now.Add(m.interval)
		}
	}
}
