// Package gate validates lifecycle transitions for leads. It is pure: a
// successful attempt returns an updated copy of the lead plus the provenance
// entries to persist; callers commit both through the store's optimistic
// concurrency check.
package gate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sells-group/leadpipe/internal/model"
)

// DropReasonUnverifiable is recorded when identity verification returns a
// negative confirmation.
const DropReasonUnverifiable = "unverifiable_identity"

// Violation is a permanent gate error: the attempted transition breaks an
// invariant and must not be retried.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("gate violation: %s", v.Reason)
}

// Rejection is a retryable gate outcome: the lead keeps its current state
// and may pass on a later run with better evidence.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("stage incomplete: %s", r.Reason)
}

// Signal grades how strongly an identity check confirmed the resource.
type Signal string

const (
	SignalNone   Signal = "none"
	SignalWeak   Signal = "weak"
	SignalStrong Signal = "strong"
)

// VerifyEvidence carries the outcome of an identity reachability check.
type VerifyEvidence struct {
	Reachable bool
	Signal    Signal
}

// EnrichEvidence carries a contact value found for the lead. Confidence must
// be above Unknown for the transition to pass.
type EnrichEvidence struct {
	Email      string
	Confidence model.Confidence
}

// EngageEvidence carries the transport acknowledgment for a sent message.
type EngageEvidence struct {
	Acknowledged bool
}

// Evidence is the input to a transition attempt. ObservedVersion is the lead
// version the evidence was built against; it drives idempotence detection.
type Evidence struct {
	Origin          string
	ObservedVersion int64
	DropReason      string

	Verify *VerifyEvidence
	Enrich *EnrichEvidence
	Engage *EngageEvidence
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidEmail reports whether v passes the syntactic contact check required
// before engaging.
func ValidEmail(v string) bool {
	return emailRe.MatchString(v)
}

// stageName maps a target state to its provenance stage label.
func stageName(s model.LifecycleState) string {
	switch s {
	case model.StateVerified:
		return "verify"
	case model.StateEnriched:
		return "enrich"
	case model.StateEngaged:
		return "engage"
	case model.StateDropped:
		return "drop"
	default:
		return string(s)
	}
}

// AttemptTransition validates the move of lead to target under the given
// evidence. On success it returns an updated copy and the provenance entries
// to append. Re-applying identical evidence is a no-op: the same lead comes
// back with no new provenance.
//
// A negative verification does not fail: it routes the lead to Dropped with
// reason "unverifiable_identity".
func AttemptTransition(lead *model.Lead, target model.LifecycleState, ev Evidence) (*model.Lead, []model.ProvenanceEntry, error) {
	if !target.Valid() {
		return nil, nil, &Violation{Reason: fmt.Sprintf("unknown target state %q", target)}
	}
	// Idempotence: evidence built against an older version whose transition
	// already landed is a no-op rather than a double-apply. Checked before
	// the terminal guard so a replayed drop is a no-op, not a violation.
	if applied(lead, target, ev) {
		return lead, nil, nil
	}

	if lead.State == model.StateDropped {
		return nil, nil, &Violation{Reason: "lead is dropped, terminal"}
	}

	if target == model.StateDropped {
		return applyDrop(lead, ev)
	}

	next, ok := lead.State.Next()
	if !ok || next != target {
		return nil, nil, &Violation{
			Reason: fmt.Sprintf("cannot move %s -> %s: states advance one step, never skip", lead.State, target),
		}
	}

	switch target {
	case model.StateVerified:
		return applyVerify(lead, ev)
	case model.StateEnriched:
		return applyEnrich(lead, ev)
	case model.StateEngaged:
		return applyEngage(lead, ev)
	default:
		return nil, nil, &Violation{Reason: fmt.Sprintf("no gate for target %q", target)}
	}
}

func applied(lead *model.Lead, target model.LifecycleState, ev Evidence) bool {
	if lead.Version <= ev.ObservedVersion {
		return false
	}
	if target == model.StateDropped {
		return lead.State == model.StateDropped
	}
	return lead.State.Order() >= target.Order() &&
		model.HasEntry(lead.Provenance, stageName(target), ev.ObservedVersion+1)
}

func applyVerify(lead *model.Lead, ev Evidence) (*model.Lead, []model.ProvenanceEntry, error) {
	if ev.Verify == nil {
		return nil, nil, &Violation{Reason: "verify transition requires reachability evidence"}
	}

	// Negative or missing confirmation routes to Dropped, not Verified.
	if !ev.Verify.Reachable || ev.Verify.Signal == SignalNone {
		drop := ev
		drop.DropReason = DropReasonUnverifiable
		return applyDrop(lead, drop)
	}

	out := advance(lead, model.StateVerified)
	prov := []model.ProvenanceEntry{{
		Origin: ev.Origin,
		Stage:  stageName(model.StateVerified),
		Value:  string(ev.Verify.Signal),
	}}
	return out, prov, nil
}

func applyEnrich(lead *model.Lead, ev Evidence) (*model.Lead, []model.ProvenanceEntry, error) {
	// Enrichment failure is retryable: the lead stays Verified.
	if ev.Enrich == nil || ev.Enrich.Email == "" {
		return nil, nil, &Rejection{Reason: "no contact found"}
	}
	if ev.Enrich.Confidence.Rank() <= model.ConfidenceUnknown.Rank() {
		return nil, nil, &Rejection{Reason: "contact confidence is unknown"}
	}

	out := advance(lead, model.StateEnriched)
	out.Confidence = model.MaxConfidence(out.Confidence, ev.Enrich.Confidence)
	prov := []model.ProvenanceEntry{{
		Origin: ev.Origin,
		Stage:  stageName(model.StateEnriched),
		Field:  "confidence_level",
		Value:  string(out.Confidence),
	}}
	return out, prov, nil
}

func applyEngage(lead *model.Lead, ev Evidence) (*model.Lead, []model.ProvenanceEntry, error) {
	if lead.Confidence == model.ConfidenceUnknown {
		return nil, nil, &Rejection{Reason: "cannot engage with unknown contact confidence"}
	}
	if !ValidEmail(lead.Email) {
		return nil, nil, &Rejection{Reason: "contact value fails format check"}
	}
	if ev.Engage == nil || !ev.Engage.Acknowledged {
		return nil, nil, &Rejection{Reason: "transport did not acknowledge send"}
	}

	out := advance(lead, model.StateEngaged)
	prov := []model.ProvenanceEntry{{
		Origin: ev.Origin,
		Stage:  stageName(model.StateEngaged),
	}}
	return out, prov, nil
}

func applyDrop(lead *model.Lead, ev Evidence) (*model.Lead, []model.ProvenanceEntry, error) {
	if ev.DropReason == "" {
		return nil, nil, &Violation{Reason: "drop requires a reason"}
	}

	out := lead.Clone()
	out.State = model.StateDropped
	out.DropReason = ev.DropReason
	prov := []model.ProvenanceEntry{{
		Origin: ev.Origin,
		Stage:  stageName(model.StateDropped),
		Field:  "drop_reason",
		Value:  ev.DropReason,
	}}
	return out, prov, nil
}

// advance clones the lead into the target state and stamps the stage
// timestamp exactly once.
func advance(lead *model.Lead, target model.LifecycleState) *model.Lead {
	out := lead.Clone()
	out.State = target
	if slot := out.StageTimestamp(target); slot != nil && *slot == nil {
		now := time.Now().UTC()
		*slot = &now
	}
	return out
}
