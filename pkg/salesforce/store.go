package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/crmsync"
)

// DefaultObject is the custom SObject that holds pipeline leads.
const DefaultObject = "Pipeline_Lead__c"

// defaultPageSize caps the rows fetched per changed-since query page.
const defaultPageSize = 2000

// leadRecord mirrors the SObject field layout of a pipeline lead.
type leadRecord struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	Fingerprint    string `json:"Fingerprint__c"`
	LinkedInURL    string `json:"LinkedIn_URL__c"`
	Email          string `json:"Email__c"`
	Company        string `json:"Company__c"`
	LifecycleState string `json:"Lifecycle_State__c"`
	DropReason     string `json:"Drop_Reason__c"`
	Confidence     string `json:"Confidence__c"`
	Notes          string `json:"Notes__c"`
	OwnerAlias     string `json:"Owner_Alias__c"`

	LastModifiedDate time.Time `json:"LastModifiedDate"`
}

// leadFields are the SOQL fields selected for lead queries.
var leadFields = []string{
	"Id", "Name", "Fingerprint__c", "LinkedIn_URL__c", "Email__c",
	"Company__c", "Lifecycle_State__c", "Drop_Reason__c", "Confidence__c",
	"Notes__c", "Owner_Alias__c", "LastModifiedDate",
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithObject overrides the SObject name leads are stored in.
func WithObject(name string) StoreOption {
	return func(s *Store) {
		if name != "" {
			s.object = name
		}
	}
}

// WithPageSize overrides the changed-since page size.
func WithPageSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// Store implements the external CRM contract against a Salesforce SObject.
type Store struct {
	client   Client
	object   string
	pageSize int
}

// NewStore creates a Store backed by the given Salesforce client.
func NewStore(c Client, opts ...StoreOption) *Store {
	s := &Store{client: c, object: DefaultObject, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ crmsync.ExternalStore = (*Store)(nil)

// Upsert writes a record by ID when known, otherwise matches on fingerprint
// and falls back to insert. Idempotent on both keys.
func (s *Store) Upsert(ctx context.Context, rec crmsync.ExternalRecord) (string, error) {
	fields := recordFields(rec)

	if rec.ID != "" {
		if err := s.client.UpdateOne(ctx, s.object, rec.ID, fields); err != nil {
			return "", err
		}
		return rec.ID, nil
	}

	existing, err := s.findByFingerprint(ctx, rec.Fingerprint)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := s.client.UpdateOne(ctx, s.object, existing.ID, fields); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	return s.client.InsertOne(ctx, s.object, fields)
}

// ChangedSince returns records modified strictly after the given time,
// oldest first. Pages are fetched with a keyset cursor on
// (LastModifiedDate, Id) until a short page signals exhaustion, so changed
// sets larger than one page are never silently truncated.
func (s *Store) ChangedSince(ctx context.Context, since time.Time) ([]crmsync.ExternalRecord, error) {
	var out []crmsync.ExternalRecord
	where := "LastModifiedDate > " + soqlTime(since)

	for {
		soql := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY LastModifiedDate ASC, Id ASC LIMIT %d",
			strings.Join(leadFields, ", "),
			s.object,
			where,
			s.pageSize,
		)

		var records []leadRecord
		if err := s.client.Query(ctx, soql, &records); err != nil {
			return nil, eris.Wrap(err, "sf: changed since")
		}
		for _, r := range records {
			out = append(out, r.toExternal())
		}
		if len(records) < s.pageSize {
			return out, nil
		}

		last := records[len(records)-1]
		ts := soqlTime(last.LastModifiedDate)
		where = fmt.Sprintf("(LastModifiedDate > %s OR (LastModifiedDate = %s AND Id > '%s'))",
			ts, ts, escapeSoql(last.ID))
	}
}

// soqlTime renders t as a SOQL datetime literal.
func soqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func (s *Store) findByFingerprint(ctx context.Context, fingerprint string) (*leadRecord, error) {
	if fingerprint == "" {
		return nil, nil
	}

	soql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE Fingerprint__c = '%s' LIMIT 1",
		strings.Join(leadFields, ", "),
		s.object,
		escapeSoql(fingerprint),
	)

	var records []leadRecord
	if err := s.client.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find by fingerprint %s", fingerprint))
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func recordFields(rec crmsync.ExternalRecord) map[string]any {
	return map[string]any{
		"Name":               rec.FullName,
		"Fingerprint__c":     rec.Fingerprint,
		"LinkedIn_URL__c":    rec.LinkedInURL,
		"Email__c":           rec.Email,
		"Company__c":         rec.Company,
		"Lifecycle_State__c": rec.State,
		"Drop_Reason__c":     rec.DropReason,
		"Confidence__c":      rec.Confidence,
		"Notes__c":           rec.Notes,
		"Owner_Alias__c":     rec.Owner,
	}
}

func (r leadRecord) toExternal() crmsync.ExternalRecord {
	return crmsync.ExternalRecord{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		FullName:    r.Name,
		LinkedInURL: r.LinkedInURL,
		Email:       r.Email,
		Company:     r.Company,
		State:       r.LifecycleState,
		DropReason:  r.DropReason,
		Confidence:  r.Confidence,
		Notes:       r.Notes,
		Owner:       r.OwnerAlias,
		ModifiedAt:  r.LastModifiedDate,
	}
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
