// Package monitoring gathers point-in-time health snapshots of the pipeline
// and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Lead counts per lifecycle state.
	Discovered int `json:"discovered"`
	Verified   int `json:"verified"`
	Enriched   int `json:"enriched"`
	Engaged    int `json:"engaged"`
	Dropped    int `json:"dropped"`
	Total      int `json:"total"`

	// Sync health.
	PendingPush int `json:"pending_push"`
	Quarantined int `json:"quarantined"`

	// LastPull is the sync coordinator's pull checkpoint; zero until the
	// first pull completes.
	LastPull time.Time `json:"last_pull,omitempty"`

	// Breakers maps each outbound target to its circuit state.
	Breakers map[string]string `json:"breakers,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and the breaker registry.
type Collector struct {
	store    store.Store
	breakers *resilience.Breakers
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st store.Store, breakers *resilience.Breakers) *Collector {
	return &Collector{store: st, breakers: breakers}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	counts, err := c.store.CountByState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by state")
	}
	for state, n := range counts {
		snap.Total += n
		switch state {
		case model.StateDiscovered:
			snap.Discovered = n
		case model.StateVerified:
			snap.Verified = n
		case model.StateEnriched:
			snap.Enriched = n
		case model.StateEngaged:
			snap.Engaged = n
		case model.StateDropped:
			snap.Dropped = n
		}
	}

	pending, err := c.store.ListLeads(ctx, store.LeadFilter{NeedsPush: true})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list pending push")
	}
	snap.PendingPush = len(pending)

	flagged := true
	quarantined, err := c.store.ListLeads(ctx, store.LeadFilter{SyncError: &flagged})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list quarantined")
	}
	snap.Quarantined = len(quarantined)

	checkpoint, err := c.store.Checkpoint(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: read checkpoint")
	}
	snap.LastPull = checkpoint

	if c.breakers != nil {
		states := c.breakers.States()
		if len(states) > 0 {
			snap.Breakers = make(map[string]string, len(states))
			for target, state := range states {
				snap.Breakers[target] = state.String()
			}
		}
	}

	return snap, nil
}
