// Package model defines the Lead entity and its lifecycle vocabulary.
package model

import "time"

// LifecycleState represents where a lead sits in the pipeline.
type LifecycleState string

const (
	StateDiscovered LifecycleState = "discovered"
	StateVerified   LifecycleState = "verified"
	StateEnriched   LifecycleState = "enriched"
	StateEngaged    LifecycleState = "engaged"
	StateDropped    LifecycleState = "dropped"
)

// stateOrder defines the forward-only partial order of lifecycle states.
// Dropped is terminal and sits outside the ordering.
var stateOrder = map[LifecycleState]int{
	StateDiscovered: 0,
	StateVerified:   1,
	StateEnriched:   2,
	StateEngaged:    3,
}

// Order returns the position of s in the forward partial order, or -1 for
// Dropped and unknown states.
func (s LifecycleState) Order() int {
	if o, ok := stateOrder[s]; ok {
		return o
	}
	return -1
}

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	return s == StateDropped || s.Order() >= 0
}

// Next returns the state that directly follows s in the pipeline, and false
// if s is terminal.
func (s LifecycleState) Next() (LifecycleState, bool) {
	switch s {
	case StateDiscovered:
		return StateVerified, true
	case StateVerified:
		return StateEnriched, true
	case StateEnriched:
		return StateEngaged, true
	default:
		return "", false
	}
}

// MaxState returns the later of two states in the forward order. Dropped
// loses against any orderable state so a merge can reverse a drop when the
// other side progressed independently.
func MaxState(a, b LifecycleState) LifecycleState {
	if a.Order() >= b.Order() {
		return a
	}
	return b
}

// Confidence describes how a contact value was obtained.
type Confidence string

const (
	ConfidenceUnknown  Confidence = "unknown"
	ConfidencePattern  Confidence = "pattern"
	ConfidenceVerified Confidence = "verified"
)

var confidenceRank = map[Confidence]int{
	ConfidenceUnknown:  0,
	ConfidencePattern:  1,
	ConfidenceVerified: 2,
}

// Rank returns the numeric position of c in the monotone confidence order.
func (c Confidence) Rank() int {
	return confidenceRank[c]
}

// MaxConfidence returns the higher of two confidence levels.
func MaxConfidence(a, b Confidence) Confidence {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// Lead is the central entity of the pipeline. Identity fields use the empty
// string for "observed absent" — a value is either real or empty, never a
// synthetic default.
type Lead struct {
	ID string `json:"id"`

	FullName          string `json:"full_name,omitempty"`
	LinkedInURL       string `json:"linkedin_url,omitempty"`
	Email             string `json:"email,omitempty"`
	Company           string `json:"company,omitempty"`
	NormalizedCompany string `json:"normalized_company,omitempty"`

	State      LifecycleState `json:"lifecycle_state"`
	DropReason string         `json:"drop_reason,omitempty"`
	Confidence Confidence     `json:"confidence_level"`

	// ExternalRef points to the record in the external CRM; empty until the
	// first successful push.
	ExternalRef string `json:"external_ref,omitempty"`

	// Version increments on every mutation and drives optimistic concurrency.
	Version int64 `json:"version"`

	// SyncedVersion is the last version successfully pushed to the external
	// store. SyncError quarantines a lead from automatic push retries.
	SyncedVersion int64 `json:"synced_version"`
	SyncError     bool  `json:"sync_error,omitempty"`

	// Notes and Owner are externally editable; inbound sync may overwrite them.
	Notes string `json:"notes,omitempty"`
	Owner string `json:"owner,omitempty"`

	Provenance []ProvenanceEntry `json:"source_provenance,omitempty"`

	DiscoveredAt *time.Time `json:"discovered_at,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	EnrichedAt   *time.Time `json:"enriched_at,omitempty"`
	EngagedAt    *time.Time `json:"engaged_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StageTimestamp returns a pointer to the timestamp slot for the given state,
// or nil when the state has no dedicated timestamp.
func (l *Lead) StageTimestamp(s LifecycleState) **time.Time {
	switch s {
	case StateDiscovered:
		return &l.DiscoveredAt
	case StateVerified:
		return &l.VerifiedAt
	case StateEnriched:
		return &l.EnrichedAt
	case StateEngaged:
		return &l.EngagedAt
	default:
		return nil
	}
}

// Clone returns a deep copy of the lead, safe to mutate without affecting
// the original.
func (l *Lead) Clone() *Lead {
	c := *l
	c.Provenance = append([]ProvenanceEntry(nil), l.Provenance...)
	cloneTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	c.DiscoveredAt = cloneTime(l.DiscoveredAt)
	c.VerifiedAt = cloneTime(l.VerifiedAt)
	c.EnrichedAt = cloneTime(l.EnrichedAt)
	c.EngagedAt = cloneTime(l.EngagedAt)
	return &c
}

// RawCandidate is an unresolved identity surfaced by a discovery source
// before deduplication.
type RawCandidate struct {
	FullName    string `json:"full_name,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Email       string `json:"email,omitempty"`
	Company     string `json:"company,omitempty"`
	Origin      string `json:"origin"`
}
