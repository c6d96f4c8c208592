package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pipeline runs the stage workers in dependency order. Each stage only sees
// leads its predecessor committed, so a single pass moves every lead at
// most one step.
type Pipeline struct {
	discoverer *Discoverer
	verifier   *Verifier
	enricher   *Enricher
	engager    *Engager
	queries    []string
}

func NewPipeline(d *Discoverer, v *Verifier, en *Enricher, eg *Engager, queries []string) *Pipeline {
	return &Pipeline{discoverer: d, verifier: v, enricher: en, engager: eg, queries: queries}
}

// RunOnce executes one full pass. A batch-level failure (store unreachable)
// aborts the pass; the caller retries on the next interval.
func (p *Pipeline) RunOnce(ctx context.Context) ([]Summary, error) {
	var summaries []Summary

	if p.discoverer != nil && len(p.queries) > 0 {
		sum, err := p.discoverer.Run(ctx, p.queries)
		summaries = append(summaries, sum)
		if err != nil {
			return summaries, err
		}
	}

	for _, stage := range []func(context.Context) (Summary, error){
		p.verifier.Run,
		p.enricher.Run,
		p.engager.Run,
	} {
		sum, err := stage(ctx)
		summaries = append(summaries, sum)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

// RunInterval repeats RunOnce on a fixed interval until the context is
// cancelled. The first pass starts immediately.
func (p *Pipeline) RunInterval(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("pipeline pass failed, will retry next interval", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
