package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/fetch"
	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/internal/store"
)

// Config controls batch shape for every stage worker.
type Config struct {
	// BatchSize caps how many leads one run pulls. Default: 50.
	BatchSize int
	// Parallelism bounds concurrent lead processing. Default: 4.
	Parallelism int
	// Origin labels provenance written by this deployment. Default:
	// "leadpipe".
	Origin string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.Origin == "" {
		c.Origin = "leadpipe"
	}
	return c
}

// Summary is the per-run outcome report. Per-lead errors land in these
// counts, never as an aborted batch.
type Summary struct {
	Stage       string `json:"stage"`
	Processed   int    `json:"processed"`
	Created     int    `json:"created,omitempty"`
	Merged      int    `json:"merged,omitempty"`
	Advanced    int    `json:"advanced,omitempty"`
	Dropped     int    `json:"dropped,omitempty"`
	Incomplete  int    `json:"incomplete,omitempty"`
	Violations  int    `json:"violations,omitempty"`
	Blacklisted int    `json:"blacklisted,omitempty"`
	Failed      int    `json:"failed,omitempty"`
}

func (s Summary) log() {
	zap.L().Info("stage run complete",
		zap.String("stage", s.Stage),
		zap.Int("processed", s.Processed),
		zap.Int("created", s.Created),
		zap.Int("merged", s.Merged),
		zap.Int("advanced", s.Advanced),
		zap.Int("dropped", s.Dropped),
		zap.Int("incomplete", s.Incomplete),
		zap.Int("violations", s.Violations),
		zap.Int("blacklisted", s.Blacklisted),
		zap.Int("failed", s.Failed),
	)
}

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeDropped
	outcomeMerged
	outcomeIncomplete
	outcomeViolation
	outcomeBlacklisted
	outcomeFailed
)

// classify maps a collaborator or gate error onto a summary bucket.
func classify(err error) outcome {
	var violation *gate.Violation
	var rejection *gate.Rejection
	switch {
	case errors.As(err, &violation):
		return outcomeViolation
	case errors.As(err, &rejection):
		return outcomeIncomplete
	case eris.Is(err, fetch.ErrTargetBlacklisted):
		return outcomeBlacklisted
	case resilience.IsTransient(err):
		return outcomeIncomplete
	default:
		return outcomeFailed
	}
}

// runBatch fans leads out across a bounded worker group. fn reports the
// outcome per lead; errors are tallied and logged, not propagated, so one
// bad lead cannot sink its batch.
func runBatch(ctx context.Context, stage string, leads []model.Lead, parallelism int, fn func(ctx context.Context, lead *model.Lead) (outcome, error)) Summary {
	sum := Summary{Stage: stage, Processed: len(leads)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range leads {
		lead := leads[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := fn(gctx, &lead)
			if err != nil {
				out = classify(err)
				logLeadError(stage, lead.ID, out, err)
			}
			mu.Lock()
			switch out {
			case outcomeAdvanced:
				sum.Advanced++
			case outcomeDropped:
				sum.Dropped++
			case outcomeMerged:
				sum.Merged++
			case outcomeIncomplete:
				sum.Incomplete++
			case outcomeViolation:
				sum.Violations++
			case outcomeBlacklisted:
				sum.Blacklisted++
			case outcomeFailed:
				sum.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sum.log()
	return sum
}

func logLeadError(stage, leadID string, out outcome, err error) {
	switch out {
	case outcomeViolation:
		zap.L().Error("gate violation", zap.String("stage", stage), zap.String("lead", leadID), zap.Error(err))
	case outcomeIncomplete:
		zap.L().Warn("stage incomplete", zap.String("stage", stage), zap.String("lead", leadID), zap.Error(err))
	case outcomeBlacklisted:
		zap.L().Warn("target blacklisted", zap.String("stage", stage), zap.String("lead", leadID))
	default:
		zap.L().Error("lead processing failed", zap.String("stage", stage), zap.String("lead", leadID), zap.Error(err))
	}
}

// commitTransition applies a gate transition and persists it, absorbing one
// version conflict by re-reading and re-applying. Gate idempotence turns a
// transition another writer already landed into a no-op.
func commitTransition(ctx context.Context, st store.Store, lead *model.Lead, target model.LifecycleState, ev gate.Evidence) (outcome, error) {
	for attempt := 0; ; attempt++ {
		ev.ObservedVersion = lead.Version
		updated, prov, err := gate.AttemptTransition(lead, target, ev)
		if err != nil {
			return 0, err
		}
		if updated == lead {
			// Already applied.
			return stateOutcome(lead.State), nil
		}

		keys := dedup.Fingerprint(updated).StoreKeys()
		err = st.UpdateLead(ctx, updated, lead.Version, keys, prov)
		if err == nil {
			return stateOutcome(updated.State), nil
		}
		if !eris.Is(err, store.ErrVersionConflict) || attempt >= 1 {
			return 0, err
		}
		lead, err = st.GetLead(ctx, lead.ID)
		if err != nil {
			return 0, err
		}
		if lead.State.Order() >= target.Order() || lead.State == model.StateDropped {
			return stateOutcome(lead.State), nil
		}
	}
}

func stateOutcome(s model.LifecycleState) outcome {
	if s == model.StateDropped {
		return outcomeDropped
	}
	return outcomeAdvanced
}

func fetchBatch(ctx context.Context, st store.Store, state model.LifecycleState, limit int) ([]model.Lead, error) {
	leads, err := st.ListLeads(ctx, store.LeadFilter{State: state, Limit: limit})
	if err != nil {
		// Store failures abort the run; the scheduler retries next interval.
		return nil, eris.Wrapf(err, "worker: list %s leads", state)
	}
	return leads, nil
}
