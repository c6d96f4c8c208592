package worker

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// Enricher moves Verified leads to Enriched by finding a contact value.
// A newly learned email can change the lead's exact fingerprint, so the
// commit goes through the dedup engine's rekey path, which may fold the
// lead into an existing record.
type Enricher struct {
	store    store.Store
	engine   *dedup.Engine
	enricher ContactEnricher
	cfg      Config
}

func NewEnricher(st store.Store, engine *dedup.Engine, enricher ContactEnricher, cfg Config) *Enricher {
	return &Enricher{store: st, engine: engine, enricher: enricher, cfg: cfg.withDefaults()}
}

func (w *Enricher) Run(ctx context.Context) (Summary, error) {
	leads, err := fetchBatch(ctx, w.store, model.StateVerified, w.cfg.BatchSize)
	if err != nil {
		return Summary{Stage: "enrich"}, err
	}
	return runBatch(ctx, "enrich", leads, w.cfg.Parallelism, w.process), ctx.Err()
}

func (w *Enricher) process(ctx context.Context, lead *model.Lead) (outcome, error) {
	ev, err := w.enricher.FindContact(ctx, lead)
	if err != nil {
		return 0, err
	}

	for attempt := 0; ; attempt++ {
		updated, prov, err := gate.AttemptTransition(lead, model.StateEnriched, gate.Evidence{
			Origin:          w.cfg.Origin,
			ObservedVersion: lead.Version,
			Enrich:          &ev,
		})
		if err != nil {
			return 0, err
		}
		if updated == lead {
			return outcomeAdvanced, nil
		}

		if ev.Email != "" && updated.Email != ev.Email &&
			(updated.Email == "" || ev.Confidence.Rank() > lead.Confidence.Rank()) {
			updated.Email = ev.Email
			prov = append(prov, model.ProvenanceEntry{
				Origin: w.cfg.Origin,
				Field:  "email",
				Value:  ev.Email,
			})
		}

		survivor, err := w.engine.Rekey(ctx, updated, lead.Version, w.cfg.Origin, prov)
		if err == nil {
			if survivor.ID != lead.ID {
				return outcomeMerged, nil
			}
			return outcomeAdvanced, nil
		}
		if !eris.Is(err, store.ErrVersionConflict) || attempt >= 1 {
			return 0, err
		}
		lead, err = w.store.GetLead(ctx, lead.ID)
		if err != nil {
			return 0, err
		}
		if lead.State.Order() >= model.StateEnriched.Order() || lead.State == model.StateDropped {
			return stateOutcome(lead.State), nil
		}
	}
}
