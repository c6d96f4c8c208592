package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
)

func discoveredLead() *model.Lead {
	return &model.Lead{
		ID:          "l1",
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Company:     "Acme Inc",
		State:       model.StateDiscovered,
		Confidence:  model.ConfidenceUnknown,
		Version:     1,
	}
}

func TestAttemptTransition_VerifySuccess(t *testing.T) {
	lead := discoveredLead()
	out, prov, err := AttemptTransition(lead, model.StateVerified, Evidence{
		Origin:          "verifier",
		ObservedVersion: 1,
		Verify:          &VerifyEvidence{Reachable: true, Signal: SignalStrong},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateVerified, out.State)
	require.NotNil(t, out.VerifiedAt)
	require.Len(t, prov, 1)
	assert.Equal(t, "verify", prov[0].Stage)

	// Input is untouched.
	assert.Equal(t, model.StateDiscovered, lead.State)
	assert.Nil(t, lead.VerifiedAt)
}

func TestAttemptTransition_UnreachableDrops(t *testing.T) {
	lead := discoveredLead()
	out, prov, err := AttemptTransition(lead, model.StateVerified, Evidence{
		Origin:          "verifier",
		ObservedVersion: 1,
		Verify:          &VerifyEvidence{Reachable: false},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateDropped, out.State)
	assert.Equal(t, DropReasonUnverifiable, out.DropReason)
	require.Len(t, prov, 1)
	assert.Equal(t, "drop", prov[0].Stage)
}

func TestAttemptTransition_NoSkipping(t *testing.T) {
	lead := discoveredLead()
	_, _, err := AttemptTransition(lead, model.StateEnriched, Evidence{
		ObservedVersion: 1,
		Enrich:          &EnrichEvidence{Email: "jane@acme.com", Confidence: model.ConfidencePattern},
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
}

func TestAttemptTransition_NoRegression(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateEnriched
	_, _, err := AttemptTransition(lead, model.StateVerified, Evidence{
		ObservedVersion: 1,
		Verify:          &VerifyEvidence{Reachable: true, Signal: SignalStrong},
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
}

func TestAttemptTransition_DroppedIsTerminal(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateDropped
	lead.DropReason = DropReasonUnverifiable

	_, _, err := AttemptTransition(lead, model.StateVerified, Evidence{
		ObservedVersion: 1,
		Verify:          &VerifyEvidence{Reachable: true, Signal: SignalStrong},
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
}

func TestAttemptTransition_EnrichWithoutContactIsRetryable(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateVerified

	_, _, err := AttemptTransition(lead, model.StateEnriched, Evidence{
		ObservedVersion: 1,
		Enrich:          nil,
	})
	var r *Rejection
	require.ErrorAs(t, err, &r, "missing contact must reject, not drop")

	_, _, err = AttemptTransition(lead, model.StateEnriched, Evidence{
		ObservedVersion: 1,
		Enrich:          &EnrichEvidence{Email: "jane@acme.com", Confidence: model.ConfidenceUnknown},
	})
	require.ErrorAs(t, err, &r, "unknown confidence must reject")
}

func TestAttemptTransition_EnrichUpgradesConfidence(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateVerified

	out, prov, err := AttemptTransition(lead, model.StateEnriched, Evidence{
		Origin:          "enricher",
		ObservedVersion: 1,
		Enrich:          &EnrichEvidence{Email: "jane@acme.com", Confidence: model.ConfidenceVerified},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriched, out.State)
	assert.Equal(t, model.ConfidenceVerified, out.Confidence)
	require.NotNil(t, out.EnrichedAt)
	require.Len(t, prov, 1)
	assert.Equal(t, "confidence_level", prov[0].Field)
}

func TestAttemptTransition_EngageRequiresValidContact(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateEnriched
	lead.Confidence = model.ConfidencePattern
	lead.Email = "not-an-email"

	_, _, err := AttemptTransition(lead, model.StateEngaged, Evidence{
		ObservedVersion: 1,
		Engage:          &EngageEvidence{Acknowledged: true},
	})
	var r *Rejection
	require.ErrorAs(t, err, &r)

	lead.Email = "jane@acme.com"
	lead.Confidence = model.ConfidenceUnknown
	_, _, err = AttemptTransition(lead, model.StateEngaged, Evidence{
		ObservedVersion: 1,
		Engage:          &EngageEvidence{Acknowledged: true},
	})
	require.ErrorAs(t, err, &r, "unknown confidence cannot engage")
}

func TestAttemptTransition_EngageSuccess(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateEnriched
	lead.Confidence = model.ConfidenceVerified
	lead.Email = "jane@acme.com"

	out, _, err := AttemptTransition(lead, model.StateEngaged, Evidence{
		Origin:          "outreach",
		ObservedVersion: 1,
		Engage:          &EngageEvidence{Acknowledged: true},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateEngaged, out.State)
	require.NotNil(t, out.EngagedAt)
}

func TestAttemptTransition_Idempotent(t *testing.T) {
	lead := discoveredLead()
	ev := Evidence{
		Origin:          "verifier",
		ObservedVersion: 1,
		Verify:          &VerifyEvidence{Reachable: true, Signal: SignalStrong},
	}

	out, prov, err := AttemptTransition(lead, model.StateVerified, ev)
	require.NoError(t, err)
	require.Len(t, prov, 1)

	// Simulate the store commit: version bump + appended provenance.
	out.Version = 2
	prov[0].Version = 2
	out.Provenance = append(out.Provenance, prov...)
	firstVerifiedAt := *out.VerifiedAt

	// Same evidence against the committed lead: no-op, no new provenance.
	again, prov2, err := AttemptTransition(out, model.StateVerified, ev)
	require.NoError(t, err)
	assert.Empty(t, prov2)
	assert.Same(t, out, again)
	assert.Equal(t, firstVerifiedAt, *again.VerifiedAt)
	assert.Len(t, again.Provenance, 1)
}

func TestAttemptTransition_DropIdempotent(t *testing.T) {
	lead := discoveredLead()
	ev := Evidence{
		Origin:          "verifier",
		ObservedVersion: 1,
		DropReason:      DropReasonUnverifiable,
	}

	out, prov, err := AttemptTransition(lead, model.StateDropped, ev)
	require.NoError(t, err)
	require.Len(t, prov, 1)

	out.Version = 2
	prov[0].Version = 2
	out.Provenance = append(out.Provenance, prov...)

	// Replaying the same drop evidence must be a no-op, not a terminal
	// violation.
	again, prov2, err := AttemptTransition(out, model.StateDropped, ev)
	require.NoError(t, err)
	assert.Empty(t, prov2)
	assert.Same(t, out, again)

	// Fresh non-drop evidence against the dropped lead still hits the
	// terminal guard.
	_, _, err = AttemptTransition(out, model.StateVerified, Evidence{
		ObservedVersion: 2,
		Verify:          &VerifyEvidence{Reachable: true, Signal: SignalStrong},
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
}

func TestAttemptTransition_DropRequiresReason(t *testing.T) {
	lead := discoveredLead()
	_, _, err := AttemptTransition(lead, model.StateDropped, Evidence{ObservedVersion: 1})
	var v *Violation
	require.ErrorAs(t, err, &v)

	out, _, err := AttemptTransition(lead, model.StateDropped, Evidence{
		ObservedVersion: 1,
		DropReason:      "no_contact_found",
	})
	require.NoError(t, err)
	assert.Equal(t, "no_contact_found", out.DropReason)
}

func TestAttemptTransition_TimestampSetOnce(t *testing.T) {
	lead := discoveredLead()
	lead.State = model.StateVerified
	earlier := lead.UpdatedAt.Add(-48 * time.Hour)
	lead.VerifiedAt = &earlier

	out, _, err := AttemptTransition(lead, model.StateEnriched, Evidence{
		ObservedVersion: 1,
		Enrich:          &EnrichEvidence{Email: "jane@acme.com", Confidence: model.ConfidencePattern},
	})
	require.NoError(t, err)
	assert.Equal(t, earlier, *out.VerifiedAt, "earlier stage timestamp must be untouched")
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("jane@acme.com"))
	assert.True(t, ValidEmail("jane.doe+x@sub.acme.io"))
	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("jane"))
	assert.False(t, ValidEmail("jane@acme"))
	assert.False(t, ValidEmail("jane @acme.com"))
}
