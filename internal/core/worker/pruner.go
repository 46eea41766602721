package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable drops entries that are past their retention.
type Prunable interface {
	Prune() int
}

// Pruner periodically evicts expired entries from an in-process store.
type Pruner struct {
	name     string
	target   Prunable
	interval time.Duration
}

// NewPruner creates a new Pruner worker. retention is the longest an entry
// may live; the sweep interval is derived from it.
func NewPruner(name string, target Prunable, retention time.Duration) *Pruner {
	// 10% of retention, between 1 minute and 1 hour
	interval := min(retention/10, time.Hour)
	interval = max(interval, time.Minute)
	return &Pruner{name: name, target: target, interval: interval}
}

// Interval returns the sweep interval.
func (p *Pruner) Interval() time.Duration { return p.interval }

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	if n := p.target.Prune(); n > 0 {
		slog.Debug("Pruned expired entries", "store", p.name, "count", n)
	}
}
