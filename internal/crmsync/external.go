// Package crmsync keeps the record store and the external tabular CRM
// eventually consistent: versioned pushes outbound, checkpointed pulls
// inbound, field-level conflict resolution between them.
package crmsync

import (
	"context"
	"time"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/model"
)

// ExternalRecord is one row of the external tabular store, flattened to the
// fields the sync contract covers.
type ExternalRecord struct {
	// ID is the external store's row identifier; empty on first push.
	ID string
	// Fingerprint mirrors the local exact fingerprint so records can be
	// matched when ID is missing.
	Fingerprint string

	FullName    string
	LinkedInURL string
	Email       string
	Company     string
	State       string
	DropReason  string
	Confidence  string
	Notes       string
	Owner       string

	// ModifiedAt is the external store's last-modified time, used for
	// changed-since pulls.
	ModifiedAt time.Time
}

// ExternalStore is the narrow contract with the external CRM. Upsert must be
// idempotent on ID and on Fingerprint: the at-least-once push guarantee
// relies on it.
type ExternalStore interface {
	Upsert(ctx context.Context, rec ExternalRecord) (id string, err error)
	ChangedSince(ctx context.Context, since time.Time) ([]ExternalRecord, error)
}

func toExternal(lead *model.Lead) ExternalRecord {
	return ExternalRecord{
		ID:          lead.ExternalRef,
		Fingerprint: dedup.Fingerprint(lead).Exact,
		FullName:    lead.FullName,
		LinkedInURL: lead.LinkedInURL,
		Email:       lead.Email,
		Company:     lead.Company,
		State:       string(lead.State),
		DropReason:  lead.DropReason,
		Confidence:  string(lead.Confidence),
		Notes:       lead.Notes,
		Owner:       lead.Owner,
	}
}

// fromExternal maps an inbound record to a lead shape for merging.
// Unparseable state or confidence values degrade to the weakest value
// instead of failing the pull; the merge rules keep them from regressing
// local state.
func fromExternal(rec ExternalRecord) *model.Lead {
	state := model.LifecycleState(rec.State)
	if !state.Valid() {
		state = model.StateDiscovered
	}
	conf := model.Confidence(rec.Confidence)
	switch conf {
	case model.ConfidenceUnknown, model.ConfidencePattern, model.ConfidenceVerified:
	default:
		conf = model.ConfidenceUnknown
	}
	return &model.Lead{
		FullName:    rec.FullName,
		LinkedInURL: rec.LinkedInURL,
		Email:       rec.Email,
		Company:     rec.Company,
		State:       state,
		DropReason:  rec.DropReason,
		Confidence:  conf,
		Notes:       rec.Notes,
		Owner:       rec.Owner,
		ExternalRef: rec.ID,
	}
}
