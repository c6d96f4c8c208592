package worker

import (
	"context"

	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// Verifier moves Discovered leads to Verified, or drops them when the
// identity check comes back negative.
type Verifier struct {
	store store.Store
	ident IdentityVerifier
	cfg   Config
}

func NewVerifier(st store.Store, ident IdentityVerifier, cfg Config) *Verifier {
	return &Verifier{store: st, ident: ident, cfg: cfg.withDefaults()}
}

func (w *Verifier) Run(ctx context.Context) (Summary, error) {
	leads, err := fetchBatch(ctx, w.store, model.StateDiscovered, w.cfg.BatchSize)
	if err != nil {
		return Summary{Stage: "verify"}, err
	}
	return runBatch(ctx, "verify", leads, w.cfg.Parallelism, w.process), ctx.Err()
}

func (w *Verifier) process(ctx context.Context, lead *model.Lead) (outcome, error) {
	ev, err := w.ident.VerifyIdentity(ctx, lead)
	if err != nil {
		return 0, err
	}
	return commitTransition(ctx, w.store, lead, model.StateVerified, gate.Evidence{
		Origin: w.cfg.Origin,
		Verify: &ev,
	})
}
