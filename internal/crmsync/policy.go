package crmsync

// Ownership says which side wins a field-level conflict.
type Ownership int

const (
	// SystemOwned fields are computed by the pipeline; inbound edits never
	// overwrite them directly, they only feed the merge rules.
	SystemOwned Ownership = iota
	// ExternalOwned fields are edited by humans in the CRM; the inbound
	// value wins whenever the external record changed after the last sync.
	ExternalOwned
)

// fieldOwnership is the explicit conflict table. Every synced field appears
// here; a field missing from the table is a bug, not a default.
var fieldOwnership = map[string]Ownership{
	"full_name":        SystemOwned,
	"linkedin_url":     SystemOwned,
	"email":            SystemOwned,
	"company":          SystemOwned,
	"lifecycle_state":  SystemOwned,
	"drop_reason":      SystemOwned,
	"confidence_level": SystemOwned,
	"notes":            ExternalOwned,
	"owner":            ExternalOwned,
}

// OwnershipOf returns the ownership for a synced field name. The second
// return is false for fields outside the sync contract.
func OwnershipOf(field string) (Ownership, bool) {
	o, ok := fieldOwnership[field]
	return o, ok
}
