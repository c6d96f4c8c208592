package crmsync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/internal/store"
)

// Config controls sync batch shape and retry depth.
type Config struct {
	// BatchSize caps how many leads one push round takes. Default: 100.
	BatchSize int
	// MaxRetries is attempts per record before quarantine. Default: 3.
	MaxRetries int
	// Origin labels provenance written by inbound sync. Default: "crm".
	Origin string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Origin == "" {
		c.Origin = "crm"
	}
	return c
}

// Summary reports one sync round.
type Summary struct {
	Pushed      int `json:"pushed,omitempty"`
	Pulled      int `json:"pulled,omitempty"`
	Created     int `json:"created,omitempty"`
	Unchanged   int `json:"unchanged,omitempty"`
	Quarantined int `json:"quarantined,omitempty"`
	Failed      int `json:"failed,omitempty"`
}

// Coordinator reconciles the record store with the external CRM in both
// directions. Per-record failures never abort a round; a record that keeps
// failing is quarantined so the rest of the batch still syncs.
type Coordinator struct {
	store    store.Store
	engine   *dedup.Engine
	external ExternalStore
	cfg      Config
	policy   resilience.Policy
}

func NewCoordinator(st store.Store, engine *dedup.Engine, external ExternalStore, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	policy := resilience.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxRetries
	return &Coordinator{store: st, engine: engine, external: external, cfg: cfg, policy: policy}
}

// Push upserts every lead whose version is newer than its last synced
// version. A lead that exhausts its retries is marked sync_error and skipped
// by future rounds until cleared.
func (c *Coordinator) Push(ctx context.Context) (Summary, error) {
	var sum Summary
	leads, err := c.store.ListLeads(ctx, store.LeadFilter{NeedsPush: true, Limit: c.cfg.BatchSize})
	if err != nil {
		return sum, eris.Wrap(err, "crmsync: list pending leads")
	}

	for i := range leads {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		lead := &leads[i]
		if err := c.pushOne(ctx, lead); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			zap.L().Error("push failed, quarantining lead",
				zap.String("lead", lead.ID), zap.Error(err))
			if qerr := c.store.SetSyncError(ctx, lead.ID, true); qerr != nil {
				return sum, eris.Wrapf(qerr, "crmsync: quarantine %s", lead.ID)
			}
			sum.Quarantined++
			continue
		}
		sum.Pushed++
	}
	return sum, nil
}

func (c *Coordinator) pushOne(ctx context.Context, lead *model.Lead) error {
	policy := c.policy
	policy.OnRetry = resilience.LogRetries("crm", "push")
	id, err := resilience.RunVal(ctx, policy, func(ctx context.Context) (string, error) {
		return c.external.Upsert(ctx, toExternal(lead))
	})
	if err != nil {
		return err
	}
	return c.store.MarkSynced(ctx, lead.ID, id, lead.Version)
}

// Pull fetches external records changed since the last checkpoint and folds
// them into the local store. A located lead whose inbound edit fails with a
// non-transient error is quarantined (sync_error) rather than retried, so one
// bad record cannot stall the checkpoint forever; transient failures still
// hold the checkpoint back and the whole round is retried next tick.
func (c *Coordinator) Pull(ctx context.Context) (Summary, error) {
	var sum Summary
	since, err := c.store.Checkpoint(ctx)
	if err != nil {
		return sum, eris.Wrap(err, "crmsync: read checkpoint")
	}
	start := time.Now().UTC()

	policy := c.policy
	policy.OnRetry = resilience.LogRetries("crm", "pull")
	recs, err := resilience.RunVal(ctx, policy, func(ctx context.Context) ([]ExternalRecord, error) {
		return c.external.ChangedSince(ctx, since)
	})
	if err != nil {
		return sum, eris.Wrap(err, "crmsync: changed-since fetch")
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		leadID, created, changed, err := c.applyInbound(ctx, rec)
		switch {
		case err != nil && leadID != "" && !resilience.IsTransient(err):
			zap.L().Error("inbound record failed, quarantining lead",
				zap.String("external_id", rec.ID),
				zap.String("lead_id", leadID), zap.Error(err))
			if qerr := c.store.SetSyncError(ctx, leadID, true); qerr != nil {
				return sum, eris.Wrap(qerr, "crmsync: quarantine lead")
			}
			sum.Quarantined++
		case err != nil:
			zap.L().Error("inbound record failed",
				zap.String("external_id", rec.ID), zap.Error(err))
			sum.Failed++
		case created:
			sum.Created++
		case changed:
			sum.Pulled++
		default:
			sum.Unchanged++
		}
	}

	if sum.Failed == 0 {
		if err := c.store.SetCheckpoint(ctx, start); err != nil {
			return sum, eris.Wrap(err, "crmsync: advance checkpoint")
		}
	}
	return sum, nil
}

// applyInbound locates the local lead for rec and applies the external edit
// under the field-ownership table: system-computed fields keep their local
// values, externally-editable fields take the inbound value as is. The
// located lead's ID is returned even on failure so the caller can quarantine.
func (c *Coordinator) applyInbound(ctx context.Context, rec ExternalRecord) (leadID string, created, changed bool, err error) {
	lead, err := c.locate(ctx, rec)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return "", false, false, err
	}

	if lead == nil {
		// First seen externally: resolve through the dedup engine so a
		// fuzzy duplicate still folds in. Lifecycle fields are reset first;
		// a hand-entered state must not advance a fuzzy-matched lead, and a
		// genuinely new record starts at the front of the pipeline.
		incoming := fromExternal(rec)
		incoming.State = model.StateDiscovered
		incoming.Confidence = model.ConfidenceUnknown
		incoming.DropReason = ""
		resolved, isNew, err := c.engine.Upsert(ctx, incoming, c.cfg.Origin)
		if err != nil {
			return "", false, false, err
		}
		if err := c.store.MarkSynced(ctx, resolved.ID, rec.ID, resolved.Version); err != nil {
			return "", false, false, err
		}
		return resolved.ID, isNew, !isNew, nil
	}

	for attempt := 0; ; attempt++ {
		// Pin the system-computed fields to the local values before merging:
		// an external edit to lifecycle state, confidence or drop reason must
		// never move the lead, only the gate pipeline does that.
		incoming := fromExternal(rec)
		incoming.State = lead.State
		incoming.Confidence = lead.Confidence
		incoming.DropReason = lead.DropReason

		merged, prov := dedup.Merge(lead, incoming, c.cfg.Origin)
		prov = append(prov, c.applyExternalOwned(merged, rec)...)
		if len(prov) == 0 {
			return lead.ID, false, false, nil
		}

		keys := dedup.Fingerprint(merged).StoreKeys()
		err := c.store.UpdateLead(ctx, merged, lead.Version, keys, prov)
		if err == nil {
			// The external side already holds these values; record the new
			// version as synced so the next push round skips the echo.
			if err := c.store.MarkSynced(ctx, merged.ID, rec.ID, merged.Version); err != nil {
				return "", false, false, err
			}
			return merged.ID, false, true, nil
		}
		if !eris.Is(err, store.ErrVersionConflict) || attempt >= 1 {
			return lead.ID, false, false, err
		}
		lead, err = c.store.GetLead(ctx, lead.ID)
		if err != nil {
			return "", false, false, err
		}
	}
}

// applyExternalOwned overwrites the externally-editable fields with the
// inbound values, returning provenance for each real change.
func (c *Coordinator) applyExternalOwned(lead *model.Lead, rec ExternalRecord) []model.ProvenanceEntry {
	var prov []model.ProvenanceEntry
	set := func(dst *string, field, val string) {
		if o, ok := OwnershipOf(field); !ok || o != ExternalOwned {
			return
		}
		if *dst == val {
			return
		}
		*dst = val
		prov = append(prov, model.ProvenanceEntry{
			Origin: c.cfg.Origin,
			Field:  field,
			Value:  val,
		})
	}
	set(&lead.Notes, "notes", rec.Notes)
	set(&lead.Owner, "owner", rec.Owner)
	return prov
}

func (c *Coordinator) locate(ctx context.Context, rec ExternalRecord) (*model.Lead, error) {
	if rec.ID != "" {
		lead, err := c.store.GetLeadByExternalRef(ctx, rec.ID)
		if err == nil {
			return lead, nil
		}
		if !eris.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if rec.Fingerprint != "" {
		lead, err := c.store.GetLeadByFingerprint(ctx, rec.Fingerprint)
		if err == nil {
			return lead, nil
		}
		if !eris.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// Run alternates push and pull on a fixed interval until cancelled.
func (c *Coordinator) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := c.Push(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("push round failed", zap.Error(err))
		}
		if _, err := c.Pull(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("pull round failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
