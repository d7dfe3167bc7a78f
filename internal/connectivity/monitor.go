// Package connectivity turns a reachability probe into a deduplicated
// online/offline stream.
package connectivity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/logging"
)

// Pinger reports whether the remote side is reachable right now.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the remote store on an interval and emits a value only on
// transitions. Offline is a state here, never an error.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	logger   logging.Logger
	online   atomic.Bool
}

func NewMonitor(pinger Pinger, interval time.Duration, logger logging.Logger) *Monitor {
	return &Monitor{pinger: pinger, interval: interval, logger: logger}
}

// Online returns the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Start begins probing and returns the transition stream. The current state
// is emitted immediately, then once per change. The channel is closed when
// ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	state := m.probe(ctx)
	m.online.Store(state)
	ch <- state

	go func() {
		defer close(ch)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		last := state
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := m.probe(ctx)
				if current == last {
					continue
				}
				last = current
				m.online.Store(current)
				m.logger.Info(ctx, "connectivity changed", "online", current)
				select {
				case ch <- current:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}

func (m *Monitor) probe(ctx context.Context) bool {
	return m.pinger.Ping(ctx) == nil
}
