package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/model"
)

// Discoverer pulls raw candidates from a discovery provider and resolves
// them through the dedup engine. Unlike the other stages it does not read a
// predecessor state; its input is the configured query list.
type Discoverer struct {
	engine   *dedup.Engine
	provider DiscoveryProvider
	cfg      Config
}

func NewDiscoverer(engine *dedup.Engine, provider DiscoveryProvider, cfg Config) *Discoverer {
	return &Discoverer{engine: engine, provider: provider, cfg: cfg.withDefaults()}
}

// Run discovers candidates for each query and upserts them. Provider
// failures skip the query; candidate-level failures skip the candidate.
func (d *Discoverer) Run(ctx context.Context, queries []string) (Summary, error) {
	sum := Summary{Stage: "discover"}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Parallelism)
	for _, query := range queries {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			cands, err := d.provider.Discover(gctx, query, d.cfg.BatchSize)
			if err != nil {
				zap.L().Warn("discovery query failed",
					zap.String("query", query), zap.Error(err))
				mu.Lock()
				sum.Failed++
				mu.Unlock()
				return nil
			}
			created, merged, failed := d.resolve(gctx, cands)
			mu.Lock()
			sum.Processed += len(cands)
			sum.Created += created
			sum.Merged += merged
			sum.Failed += failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sum.log()
	return sum, ctx.Err()
}

func (d *Discoverer) resolve(ctx context.Context, cands []model.RawCandidate) (created, merged, failed int) {
	for _, cand := range cands {
		origin := cand.Origin
		if origin == "" {
			origin = d.cfg.Origin
		}
		_, isNew, err := d.engine.Upsert(ctx, dedup.LeadFromCandidate(cand), origin)
		switch {
		case err != nil:
			zap.L().Warn("candidate resolution failed",
				zap.String("name", cand.FullName), zap.Error(err))
			failed++
		case isNew:
			created++
		default:
			merged++
		}
	}
	return created, merged, failed
}
