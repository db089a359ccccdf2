package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay counter set.
var Stats = &stats{}

type stats struct {
	Admitted        atomic.Int64 // connections that passed admission
	Closed          atomic.Int64 // admitted connections that have since closed
	Refused         atomic.Int64 // connections refused at admission
	Signals         atomic.Int64 // handshake envelopes relayed (counted once per inbound frame)
	Chats           atomic.Int64 // chat messages accepted and broadcast
	PersistFailures atomic.Int64 // transcript appends that failed
	Dropped         atomic.Int64 // frames discarded (malformed, unknown type, full outbound queue)
}

func (s *stats) AddAdmitted()       { s.Admitted.Add(1) }
func (s *stats) AddClosed()         { s.Closed.Add(1) }
func (s *stats) AddRefused()        { s.Refused.Add(1) }
func (s *stats) AddSignal()         { s.Signals.Add(1) }
func (s *stats) AddChat()           { s.Chats.Add(1) }
func (s *stats) AddPersistFailure() { s.PersistFailures.Add(1) }
func (s *stats) AddDropped()        { s.Dropped.Add(1) }

// Active returns the number of admitted connections that are still open.
func (s *stats) Active() int64 {
	return s.Admitted.Load() - s.Closed.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// snapshot is a point-in-time copy of the counters used to compute deltas.
type snapshot struct {
	admitted, closed, signals, chats, failures int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		admitted: s.Admitted.Load(),
		closed:   s.Closed.Load(),
		signals:  s.Signals.Load(),
		chats:    s.Chats.Load(),
		failures: s.PersistFailures.Load(),
	}
}

// ReportStats logs relay activity every interval, skipping quiet intervals.
// It blocks until ctx is cancelled.
func ReportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := Stats.snapshot()
	for {
		select {
		case <-ticker.C:
			cur := Stats.snapshot()
			if cur != prev {
				pterm.DefaultLogger.Info(formatStats(prev, cur))
			}
			prev = cur

		case <-ctx.Done():
			return
		}
	}
}

// formatStats returns the per-interval activity line shown by the reporter.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Conn: %3d active %2d↑ %2d↓ | Signals: %4d | Chats: %3d | Persist errors: %d",
		cur.admitted-cur.closed,
		cur.admitted-prev.admitted,
		cur.closed-prev.closed,
		cur.signals-prev.signals,
		cur.chats-prev.chats,
		cur.failures-prev.failures,
	)
}
