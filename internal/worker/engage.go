package worker

import (
	"context"

	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// Engager composes and sends outreach for Enriched leads, advancing them to
// Engaged on transport acknowledgment.
type Engager struct {
	store     store.Store
	composer  MessageComposer
	transport Transport
	cfg       Config
}

func NewEngager(st store.Store, composer MessageComposer, transport Transport, cfg Config) *Engager {
	return &Engager{store: st, composer: composer, transport: transport, cfg: cfg.withDefaults()}
}

func (w *Engager) Run(ctx context.Context) (Summary, error) {
	leads, err := fetchBatch(ctx, w.store, model.StateEnriched, w.cfg.BatchSize)
	if err != nil {
		return Summary{Stage: "engage"}, err
	}
	return runBatch(ctx, "engage", leads, w.cfg.Parallelism, w.process), ctx.Err()
}

func (w *Engager) process(ctx context.Context, lead *model.Lead) (outcome, error) {
	// Do not hand an unusable contact to the transport; the gate would
	// reject the transition anyway.
	if lead.Confidence == model.ConfidenceUnknown {
		return 0, &gate.Rejection{Reason: "cannot engage with unknown contact confidence"}
	}
	if !gate.ValidEmail(lead.Email) {
		return 0, &gate.Rejection{Reason: "contact value fails format check"}
	}

	msg, err := w.composer.Compose(ctx, lead)
	if err != nil {
		return 0, err
	}
	msg.LeadID = lead.ID
	msg.To = lead.Email

	ack, err := w.transport.Send(ctx, msg)
	if err != nil {
		return 0, err
	}

	return commitTransition(ctx, w.store, lead, model.StateEngaged, gate.Evidence{
		Origin: w.cfg.Origin,
		Engage: &gate.EngageEvidence{Acknowledged: ack},
	})
}
