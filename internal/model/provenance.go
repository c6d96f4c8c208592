package model

import "time"

// ProvenanceEntry records a single field-level write: which origin donated
// which value, at which lead version. The log is append-only; writes never
// silently overwrite without leaving an entry.
type ProvenanceEntry struct {
	ID        int64     `json:"id,omitempty"`
	LeadID    string    `json:"lead_id,omitempty"`
	Origin    string    `json:"origin"`
	Field     string    `json:"field,omitempty"`
	Value     string    `json:"value,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// HasEntry reports whether the log already contains an entry for the given
// stage at the given version. Used to keep transition application idempotent.
func HasEntry(entries []ProvenanceEntry, stage string, version int64) bool {
	for _, e := range entries {
		if e.Stage == stage && e.Version == version {
			return true
		}
	}
	return false
}
