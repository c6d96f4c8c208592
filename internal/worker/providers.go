// Package worker runs the batch stage jobs: Discover, Verify, Enrich, and
// Engage. Each worker reads leads in the predecessor state, calls its
// collaborator, applies the stage gate, and commits through the store's
// version check. Per-lead failures never abort a batch.
package worker

import (
	"context"

	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
)

// DiscoveryProvider surfaces raw identity candidates for a search query.
// Implementations wrap the actual search/scrape service behind the fetch
// client.
type DiscoveryProvider interface {
	Discover(ctx context.Context, query string, limit int) ([]model.RawCandidate, error)
}

// IdentityVerifier checks whether a lead's claimed identity resource exists
// and how strongly it matches.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, lead *model.Lead) (gate.VerifyEvidence, error)
}

// ContactEnricher finds a contact value for a verified lead.
type ContactEnricher interface {
	FindContact(ctx context.Context, lead *model.Lead) (gate.EnrichEvidence, error)
}

// Message is an outreach payload produced by a composer and handed to a
// transport.
type Message struct {
	LeadID  string `json:"lead_id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MessageComposer renders the outreach message for an enriched lead.
type MessageComposer interface {
	Compose(ctx context.Context, lead *model.Lead) (Message, error)
}

// Transport delivers a message and reports whether the collaborator
// acknowledged the send.
type Transport interface {
	Send(ctx context.Context, msg Message) (bool, error)
}
