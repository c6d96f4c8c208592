package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	full_name          TEXT,
	linkedin_url       TEXT,
	email              TEXT,
	company            TEXT,
	normalized_company TEXT,
	lifecycle_state    TEXT NOT NULL DEFAULT 'discovered',
	drop_reason        TEXT,
	confidence_level   TEXT NOT NULL DEFAULT 'unknown',
	external_ref       TEXT,
	version            INTEGER NOT NULL DEFAULT 1,
	synced_version     INTEGER NOT NULL DEFAULT 0,
	sync_error         INTEGER NOT NULL DEFAULT 0,
	notes              TEXT,
	owner              TEXT,
	fingerprint        TEXT,
	fuzzy_tokens       TEXT,
	discovered_at      DATETIME,
	verified_at        DATETIME,
	enriched_at        DATETIME,
	engaged_at         DATETIME,
	updated_at         DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_fingerprint
	ON leads(fingerprint) WHERE fingerprint IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_state ON leads(lifecycle_state);
CREATE INDEX IF NOT EXISTS idx_leads_external_ref ON leads(external_ref);
CREATE INDEX IF NOT EXISTS idx_leads_needs_push
	ON leads(sync_error, synced_version);

CREATE TABLE IF NOT EXISTS lead_provenance (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	origin     TEXT NOT NULL,
	field      TEXT,
	value      TEXT,
	stage      TEXT,
	version    INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lead_provenance_lead_id ON lead_provenance(lead_id);

CREATE TABLE IF NOT EXISTS sync_checkpoint (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	pulled_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const leadColumns = `id, full_name, linkedin_url, email, company, normalized_company,
	lifecycle_state, drop_reason, confidence_level, external_ref,
	version, synced_version, sync_error, notes, owner,
	discovered_at, verified_at, enriched_at, engaged_at, updated_at`

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead, keys Keys) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	lead.Version = 1
	lead.UpdatedAt = time.Now().UTC()
	for i := range lead.Provenance {
		lead.Provenance[i].LeadID = lead.ID
		lead.Provenance[i].Version = 1
		if lead.Provenance[i].CreatedAt.IsZero() {
			lead.Provenance[i].CreatedAt = lead.UpdatedAt
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create lead")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`, fingerprint, fuzzy_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, nullStr(lead.FullName), nullStr(lead.LinkedInURL), nullStr(lead.Email),
		nullStr(lead.Company), nullStr(lead.NormalizedCompany),
		string(lead.State), nullStr(lead.DropReason), string(lead.Confidence),
		nullStr(lead.ExternalRef), lead.Version, lead.SyncedVersion, boolInt(lead.SyncError),
		nullStr(lead.Notes), nullStr(lead.Owner),
		lead.DiscoveredAt, lead.VerifiedAt, lead.EnrichedAt, lead.EngagedAt, lead.UpdatedAt,
		nullStr(keys.Exact), nullStr(keys.Fuzzy),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
	}

	if err := insertProvenance(ctx, tx, lead.Provenance); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create lead")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *model.Lead, expectVersion int64, keys Keys, prov []model.ProvenanceEntry) error {
	now := time.Now().UTC()
	newVersion := expectVersion + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update lead")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET
			full_name = ?, linkedin_url = ?, email = ?, company = ?, normalized_company = ?,
			lifecycle_state = ?, drop_reason = ?, confidence_level = ?, external_ref = ?,
			version = ?, notes = ?, owner = ?, fingerprint = ?, fuzzy_tokens = ?,
			discovered_at = ?, verified_at = ?, enriched_at = ?, engaged_at = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		nullStr(lead.FullName), nullStr(lead.LinkedInURL), nullStr(lead.Email),
		nullStr(lead.Company), nullStr(lead.NormalizedCompany),
		string(lead.State), nullStr(lead.DropReason), string(lead.Confidence),
		nullStr(lead.ExternalRef), newVersion, nullStr(lead.Notes), nullStr(lead.Owner),
		nullStr(keys.Exact), nullStr(keys.Fuzzy),
		lead.DiscoveredAt, lead.VerifiedAt, lead.EnrichedAt, lead.EngagedAt, now,
		lead.ID, expectVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", lead.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if exists, err := s.leadExists(ctx, lead.ID); err != nil {
			return err
		} else if !exists {
			return eris.Wrapf(ErrNotFound, "id %s", lead.ID)
		}
		return eris.Wrapf(ErrVersionConflict, "lead %s expected version %d", lead.ID, expectVersion)
	}

	for i := range prov {
		prov[i].LeadID = lead.ID
		prov[i].Version = newVersion
		if prov[i].CreatedAt.IsZero() {
			prov[i].CreatedAt = now
		}
	}
	if err := insertProvenance(ctx, tx, prov); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit update lead")
	}

	lead.Version = newVersion
	lead.UpdatedAt = now
	lead.Provenance = append(lead.Provenance, prov...)
	return nil
}

func insertProvenance(ctx context.Context, tx *sql.Tx, entries []model.ProvenanceEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO lead_provenance (lead_id, origin, field, value, stage, version, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.LeadID, e.Origin, nullStr(e.Field), nullStr(e.Value), nullStr(e.Stage), e.Version, e.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert provenance for %s", e.LeadID)
		}
	}
	return nil
}

func (s *SQLiteStore) leadExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: lead exists %s", id)
	}
	return true, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	lead, err := s.getLeadWhere(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	lead.Provenance, err = s.ListProvenance(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *SQLiteStore) GetLeadByFingerprint(ctx context.Context, exact string) (*model.Lead, error) {
	return s.getLeadWhere(ctx, "fingerprint = ?", exact)
}

func (s *SQLiteStore) GetLeadByExternalRef(ctx context.Context, ref string) (*model.Lead, error) {
	return s.getLeadWhere(ctx, "external_ref = ?", ref)
}

func (s *SQLiteStore) getLeadWhere(ctx context.Context, where string, args ...any) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+where, args...)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, where)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead by %s", where)
	}
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	var conds []string
	var args []any

	if filter.State != "" {
		conds = append(conds, "lifecycle_state = ?")
		args = append(args, string(filter.State))
	}
	if filter.NeedsPush {
		conds = append(conds, "version > synced_version", "sync_error = 0")
	}
	if filter.SyncError != nil {
		conds = append(conds, "sync_error = ?")
		args = append(args, boolInt(*filter.SyncError))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *SQLiteStore) SearchFuzzy(ctx context.Context, tokens []string, limit int) ([]model.Lead, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []any
	for _, tok := range tokens {
		conds = append(conds, "instr(fuzzy_tokens, ?) > 0")
		args = append(args, tok)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE fuzzy_tokens IS NOT NULL AND (`+
			strings.Join(conds, " OR ")+`) LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search fuzzy")
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *SQLiteStore) ListProvenance(ctx context.Context, leadID string) ([]model.ProvenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, origin, field, value, stage, version, created_at
		 FROM lead_provenance WHERE lead_id = ? ORDER BY id ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list provenance %s", leadID)
	}
	defer rows.Close()

	var entries []model.ProvenanceEntry
	for rows.Next() {
		var e model.ProvenanceEntry
		var field, value, stage sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Origin, &field, &value, &stage, &e.Version, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		e.Field = field.String
		e.Value = value.String
		e.Stage = stage.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: provenance rows")
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, id, externalRef string, version int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET external_ref = ?, synced_version = ?, sync_error = 0 WHERE id = ?`,
		nullStr(externalRef), version, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark synced %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) SetSyncError(ctx context.Context, id string, flagged bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET sync_error = ? WHERE id = ?`, boolInt(flagged), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set sync error %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) ClearSyncErrors(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE leads SET sync_error = 0 WHERE sync_error = 1`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear sync errors")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: clear sync errors rows")
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT pulled_at FROM sync_checkpoint WHERE id = 1`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: get checkpoint")
	}
	return t, nil
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_checkpoint (id, pulled_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET pulled_at = excluded.pulled_at`,
		t.UTC(),
	)
	return eris.Wrap(err, "sqlite: set checkpoint")
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[model.LifecycleState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lifecycle_state, COUNT(*) FROM leads GROUP BY lifecycle_state`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by state")
	}
	defer rows.Close()

	counts := make(map[model.LifecycleState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		counts[model.LifecycleState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: state count rows")
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var fullName, linkedin, email, company, normCompany sql.NullString
	var state, confidence string
	var dropReason, externalRef, notes, owner sql.NullString
	var syncError int64
	var discoveredAt, verifiedAt, enrichedAt, engagedAt sql.NullTime

	err := row.Scan(
		&l.ID, &fullName, &linkedin, &email, &company, &normCompany,
		&state, &dropReason, &confidence, &externalRef,
		&l.Version, &l.SyncedVersion, &syncError, &notes, &owner,
		&discoveredAt, &verifiedAt, &enrichedAt, &engagedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.FullName = fullName.String
	l.LinkedInURL = linkedin.String
	l.Email = email.String
	l.Company = company.String
	l.NormalizedCompany = normCompany.String
	l.State = model.LifecycleState(state)
	l.DropReason = dropReason.String
	l.Confidence = model.Confidence(confidence)
	l.ExternalRef = externalRef.String
	l.SyncError = syncError != 0
	l.Notes = notes.String
	l.Owner = owner.String
	l.DiscoveredAt = timePtr(discoveredAt)
	l.VerifiedAt = timePtr(verifiedAt)
	l.EnrichedAt = timePtr(enrichedAt)
	l.EngagedAt = timePtr(engagedAt)
	return &l, nil
}

func collectLeads(rows *sql.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: lead rows")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
