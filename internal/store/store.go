// Package store provides durable keyed storage for leads, their append-only
// provenance log, and the sync checkpoint.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// ErrNotFound is returned when no lead matches the given key.
var ErrNotFound = eris.New("store: lead not found")

// ErrVersionConflict is returned by UpdateLead when the stored version does
// not match the expected one. The caller re-reads and retries.
var ErrVersionConflict = eris.New("store: version conflict")

// Keys carries the identity keys persisted alongside a lead. Exact is the
// deterministic fingerprint (unique when non-empty); Fuzzy is the normalized
// token text used for similarity candidate lookup.
type Keys struct {
	Exact string
	Fuzzy string
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	State model.LifecycleState `json:"state,omitempty"`

	// NeedsPush selects leads with local changes not yet pushed and not
	// quarantined.
	NeedsPush bool `json:"needs_push,omitempty"`

	// SyncError filters on the quarantine flag when non-nil.
	SyncError *bool `json:"sync_error,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// CreateLead persists a new lead. Missing IDs are assigned; version
	// starts at 1. Provenance entries already on the lead are written at
	// version 1.
	CreateLead(ctx context.Context, lead *model.Lead, keys Keys) error

	// UpdateLead writes the lead if the stored version equals expectVersion,
	// bumping version by one and appending prov in the same transaction.
	// Returns ErrVersionConflict on a stale read.
	UpdateLead(ctx context.Context, lead *model.Lead, expectVersion int64, keys Keys, prov []model.ProvenanceEntry) error

	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByFingerprint(ctx context.Context, exact string) (*model.Lead, error)
	GetLeadByExternalRef(ctx context.Context, ref string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// SearchFuzzy returns leads whose fuzzy key text contains any of the
	// given tokens. Dropped leads are included so rediscovered identities
	// merge into their dropped record instead of looping.
	SearchFuzzy(ctx context.Context, tokens []string, limit int) ([]model.Lead, error)

	ListProvenance(ctx context.Context, leadID string) ([]model.ProvenanceEntry, error)

	// MarkSynced records a successful push. It does not bump the lead
	// version: sync bookkeeping is not a lead mutation.
	MarkSynced(ctx context.Context, id, externalRef string, version int64) error
	SetSyncError(ctx context.Context, id string, flagged bool) error
	ClearSyncErrors(ctx context.Context) (int, error)

	Checkpoint(ctx context.Context) (time.Time, error)
	SetCheckpoint(ctx context.Context, t time.Time) error

	CountByState(ctx context.Context) (map[model.LifecycleState]int, error)

	Migrate(ctx context.Context) error
	Close() error
}
