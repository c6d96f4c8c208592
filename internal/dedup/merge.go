package dedup

import (
	"github.com/sells-group/leadpipe/internal/model"
)

// Merge folds incoming into existing and returns the merged survivor plus
// provenance entries crediting the origin for every field it donated. The
// result is deterministic: a field is overwritten only when the incoming
// value is non-empty and either the existing value is empty or the incoming
// confidence strictly outranks the existing one. States merge to the later
// lifecycle stage; a Dropped record is only revived when the incoming side
// reached Verified or beyond on its own.
func Merge(existing, incoming *model.Lead, origin string) (*model.Lead, []model.ProvenanceEntry) {
	out := existing.Clone()
	version := existing.Version + 1
	var prov []model.ProvenanceEntry

	credit := func(field, value string) {
		prov = append(prov, model.ProvenanceEntry{
			LeadID:  existing.ID,
			Origin:  origin,
			Field:   field,
			Value:   value,
			Version: version,
		})
	}
	takeover := incoming.Confidence.Rank() > existing.Confidence.Rank()
	fill := func(dst *string, src, field string) {
		if src == "" {
			return
		}
		if *dst == "" || (takeover && *dst != src) {
			*dst = src
			credit(field, src)
		}
	}

	fill(&out.FullName, incoming.FullName, "full_name")
	fill(&out.LinkedInURL, incoming.LinkedInURL, "linkedin_url")
	fill(&out.Email, incoming.Email, "email")
	fill(&out.Company, incoming.Company, "company")
	fill(&out.Notes, incoming.Notes, "notes")
	fill(&out.Owner, incoming.Owner, "owner")
	if out.Company != "" {
		out.NormalizedCompany = NormalizeCompany(out.Company)
	}
	if incoming.Confidence.Rank() > out.Confidence.Rank() {
		out.Confidence = incoming.Confidence
		credit("confidence_level", string(out.Confidence))
	}
	if out.ExternalRef == "" && incoming.ExternalRef != "" {
		out.ExternalRef = incoming.ExternalRef
		credit("external_ref", incoming.ExternalRef)
	}

	mergeState(out, incoming, credit)
	mergeTimestamps(out, incoming)
	return out, prov
}

func mergeState(out, incoming *model.Lead, credit func(field, value string)) {
	switch {
	case out.State == model.StateDropped:
		// A drop is sticky unless the other record independently cleared
		// verification, which contradicts the drop reason.
		if incoming.State.Order() >= model.StateVerified.Order() {
			reason := out.DropReason
			out.State = incoming.State
			out.DropReason = ""
			credit("lifecycle_state", string(out.State))
			credit("drop_reversed", reason)
		}
	case incoming.State == model.StateDropped:
		// The survivor has its own standing; an incoming drop does not
		// demote it.
	default:
		merged := model.MaxState(out.State, incoming.State)
		if merged != out.State {
			out.State = merged
			credit("lifecycle_state", string(merged))
		}
	}
}

// mergeTimestamps keeps the earliest recorded time for each stage so the
// first observation wins regardless of merge direction.
func mergeTimestamps(out, incoming *model.Lead) {
	for _, st := range []model.LifecycleState{
		model.StateDiscovered, model.StateVerified, model.StateEnriched, model.StateEngaged,
	} {
		dst := out.StageTimestamp(st)
		src := incoming.StageTimestamp(st)
		if src == nil || *src == nil {
			continue
		}
		if *dst == nil || (*src).Before(**dst) {
			v := **src
			*dst = &v
		}
	}
}
