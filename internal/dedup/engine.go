package dedup

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// DropReasonMerged tombstones a record whose identity collided with an older
// survivor. Records are never physically deleted.
const DropReasonMerged = "merged_duplicate"

const (
	lockStripes   = 64
	maxCASRetries = 3
	candidateCap  = 50
)

// Engine resolves raw identities against the record store, enforcing the
// one-record-per-identity invariant. Resolution cascades exact fingerprint
// lookup, then fuzzy similarity, then creation.
type Engine struct {
	store     store.Store
	threshold float64
	locks     [lockStripes]sync.Mutex
}

// NewEngine builds an Engine. A non-positive threshold falls back to
// DefaultThreshold.
func NewEngine(st store.Store, threshold float64) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Engine{store: st, threshold: threshold}
}

// LeadFromCandidate seeds a new lead from a discovery candidate. The caller
// passes it to Upsert; dedup decides whether it becomes a record or merges
// into one.
func LeadFromCandidate(c model.RawCandidate) *model.Lead {
	return &model.Lead{
		FullName:    strings.TrimSpace(c.FullName),
		LinkedInURL: strings.TrimSpace(c.LinkedInURL),
		Email:       strings.TrimSpace(c.Email),
		Company:     strings.TrimSpace(c.Company),
		State:       model.StateDiscovered,
		Confidence:  model.ConfidenceUnknown,
	}
}

// Upsert resolves incoming against the store: merge into an exact
// fingerprint match, else into the best fuzzy match at or above the
// threshold, else create a new record. It returns the surviving record and
// whether it was newly created. Concurrent upserts of the same identity are
// serialized on a key-striped lock so they cannot both create.
func (e *Engine) Upsert(ctx context.Context, incoming *model.Lead, origin string) (*model.Lead, bool, error) {
	key := Fingerprint(incoming)
	if key.Exact == "" && len(key.NameTokens) == 0 && len(key.CompanyTokens) == 0 {
		return nil, false, eris.New("dedup: candidate carries no identity")
	}

	lock := e.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	if key.Exact != "" {
		existing, err := e.store.GetLeadByFingerprint(ctx, key.Exact)
		switch {
		case err == nil:
			merged, err := e.persistMerge(ctx, existing, incoming, origin)
			return merged, false, err
		case !eris.Is(err, store.ErrNotFound):
			return nil, false, eris.Wrap(err, "dedup: exact lookup")
		}
	}

	match, err := e.bestFuzzyMatch(ctx, key, incoming)
	if err != nil {
		return nil, false, err
	}
	if match != nil {
		merged, err := e.persistMerge(ctx, match, incoming, origin)
		return merged, false, err
	}

	created, err := e.create(ctx, incoming, key, origin)
	return created, err == nil, err
}

// Rekey recomputes a lead's fingerprint after an identity field changed and
// persists the update. When the new fingerprint collides with another
// record, the older record survives the merge and this lead is tombstoned as
// a duplicate with its fingerprint released.
func (e *Engine) Rekey(ctx context.Context, lead *model.Lead, expectVersion int64, origin string, prov []model.ProvenanceEntry) (*model.Lead, error) {
	key := Fingerprint(lead)

	if key.Exact != "" {
		other, err := e.store.GetLeadByFingerprint(ctx, key.Exact)
		if err == nil && other.ID != lead.ID {
			return e.absorb(ctx, other, lead, expectVersion, origin)
		}
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "dedup: rekey lookup")
		}
	}

	if err := e.store.UpdateLead(ctx, lead, expectVersion, key.StoreKeys(), prov); err != nil {
		return nil, err
	}
	return lead, nil
}

// absorb merges dup into survivor and tombstones dup. The dup keeps its row
// for audit but drops out of every fingerprint index.
func (e *Engine) absorb(ctx context.Context, survivor, dup *model.Lead, dupVersion int64, origin string) (*model.Lead, error) {
	merged, err := e.persistMerge(ctx, survivor, dup, origin)
	if err != nil {
		return nil, err
	}

	tomb := dup.Clone()
	tomb.State = model.StateDropped
	tomb.DropReason = DropReasonMerged
	prov := []model.ProvenanceEntry{{
		LeadID:  tomb.ID,
		Origin:  origin,
		Field:   "merged_into",
		Value:   merged.ID,
		Version: dupVersion + 1,
	}}
	if err := e.store.UpdateLead(ctx, tomb, dupVersion, store.Keys{}, prov); err != nil {
		return nil, eris.Wrapf(err, "dedup: tombstone %s", tomb.ID)
	}
	zap.L().Info("merged duplicate lead",
		zap.String("survivor", merged.ID),
		zap.String("duplicate", tomb.ID))
	return merged, nil
}

func (e *Engine) bestFuzzyMatch(ctx context.Context, key Key, incoming *model.Lead) (*model.Lead, error) {
	tokens := append(append([]string(nil), key.NameTokens...), key.CompanyTokens...)
	cands, err := e.store.SearchFuzzy(ctx, tokens, candidateCap)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: fuzzy search")
	}

	var best *model.Lead
	var bestScore float64
	for i := range cands {
		c := &cands[i]
		ck := Fingerprint(c)
		// Conflicting exact identifiers mean two different people, no
		// matter how similar the names look.
		if key.Exact != "" && ck.Exact != "" && key.Exact != ck.Exact {
			continue
		}
		score := Similarity(key, ck)
		if score < bestScore {
			continue
		}
		// Equal scores break toward the older record.
		if score == bestScore && best != nil && !olderThan(c, best) {
			continue
		}
		best, bestScore = c, score
	}
	if best == nil {
		return nil, nil
	}

	if bestScore >= e.threshold-ambiguityBand && bestScore < e.threshold+ambiguityBand {
		zap.L().Warn("fuzzy match near threshold",
			zap.String("candidate", best.ID),
			zap.Float64("score", bestScore),
			zap.Float64("threshold", e.threshold),
			zap.String("name", incoming.FullName))
	}
	if bestScore < e.threshold {
		return nil, nil
	}
	return best.Clone(), nil
}

// persistMerge merges incoming into existing and writes it back, re-reading
// and re-merging on version conflicts.
func (e *Engine) persistMerge(ctx context.Context, existing, incoming *model.Lead, origin string) (*model.Lead, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		merged, prov := Merge(existing, incoming, origin)
		keys := Fingerprint(merged).StoreKeys()
		err := e.store.UpdateLead(ctx, merged, existing.Version, keys, prov)
		if err == nil {
			return merged, nil
		}
		if !eris.Is(err, store.ErrVersionConflict) {
			return nil, eris.Wrapf(err, "dedup: merge into %s", existing.ID)
		}
		fresh, rerr := e.store.GetLead(ctx, existing.ID)
		if rerr != nil {
			return nil, eris.Wrapf(rerr, "dedup: re-read %s after conflict", existing.ID)
		}
		existing = fresh
	}
	return nil, eris.Wrapf(store.ErrVersionConflict, "dedup: merge into %s exhausted retries", existing.ID)
}

func (e *Engine) create(ctx context.Context, lead *model.Lead, key Key, origin string) (*model.Lead, error) {
	created := lead.Clone()
	if created.State == "" {
		created.State = model.StateDiscovered
	}
	if created.Confidence == "" {
		created.Confidence = model.ConfidenceUnknown
	}
	if created.Company != "" {
		created.NormalizedCompany = NormalizeCompany(created.Company)
	}
	if created.DiscoveredAt == nil {
		now := time.Now().UTC()
		created.DiscoveredAt = &now
	}
	created.Provenance = []model.ProvenanceEntry{{
		Origin:  origin,
		Stage:   string(model.StateDiscovered),
		Version: 1,
	}}
	if err := e.store.CreateLead(ctx, created, key.StoreKeys()); err != nil {
		return nil, eris.Wrap(err, "dedup: create lead")
	}
	return created, nil
}

func (e *Engine) stripe(key Key) *sync.Mutex {
	id := key.Exact
	if id == "" {
		id = key.FuzzyText()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &e.locks[h.Sum32()%lockStripes]
}

func olderThan(a, b *model.Lead) bool {
	switch {
	case a.DiscoveredAt == nil:
		return false
	case b.DiscoveredAt == nil:
		return true
	default:
		return a.DiscoveredAt.Before(*b.DiscoveredAt)
	}
}
