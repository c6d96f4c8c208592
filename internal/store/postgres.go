package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// Pool abstracts *pgxpool.Pool so the store can be unit tested with pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
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
	version            BIGINT NOT NULL DEFAULT 1,
	synced_version     BIGINT NOT NULL DEFAULT 0,
	sync_error         BOOLEAN NOT NULL DEFAULT false,
	notes              TEXT,
	owner              TEXT,
	fingerprint        TEXT,
	fuzzy_tokens       TEXT,
	discovered_at      TIMESTAMPTZ,
	verified_at        TIMESTAMPTZ,
	enriched_at        TIMESTAMPTZ,
	engaged_at         TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_fingerprint
	ON leads(fingerprint) WHERE fingerprint IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_state ON leads(lifecycle_state);
CREATE INDEX IF NOT EXISTS idx_leads_external_ref ON leads(external_ref);
CREATE INDEX IF NOT EXISTS idx_leads_needs_push ON leads(sync_error, synced_version);

CREATE TABLE IF NOT EXISTS lead_provenance (
	id         BIGSERIAL PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	origin     TEXT NOT NULL,
	field      TEXT,
	value      TEXT,
	stage      TEXT,
	version    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lead_provenance_lead_id ON lead_provenance(lead_id);

CREATE TABLE IF NOT EXISTS sync_checkpoint (
	id        INT PRIMARY KEY CHECK (id = 1),
	pulled_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead, keys Keys) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create lead")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`, fingerprint, fuzzy_tokens)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		lead.ID, nullStr(lead.FullName), nullStr(lead.LinkedInURL), nullStr(lead.Email),
		nullStr(lead.Company), nullStr(lead.NormalizedCompany),
		string(lead.State), nullStr(lead.DropReason), string(lead.Confidence),
		nullStr(lead.ExternalRef), lead.Version, lead.SyncedVersion, lead.SyncError,
		nullStr(lead.Notes), nullStr(lead.Owner),
		lead.DiscoveredAt, lead.VerifiedAt, lead.EnrichedAt, lead.EngagedAt, lead.UpdatedAt,
		nullStr(keys.Exact), nullStr(keys.Fuzzy),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
	}

	if err := pgInsertProvenance(ctx, tx, lead.Provenance); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit create lead")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, lead *model.Lead, expectVersion int64, keys Keys, prov []model.ProvenanceEntry) error {
	now := time.Now().UTC()
	newVersion := expectVersion + 1

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update lead")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE leads SET
			full_name = $1, linkedin_url = $2, email = $3, company = $4, normalized_company = $5,
			lifecycle_state = $6, drop_reason = $7, confidence_level = $8, external_ref = $9,
			version = $10, notes = $11, owner = $12, fingerprint = $13, fuzzy_tokens = $14,
			discovered_at = $15, verified_at = $16, enriched_at = $17, engaged_at = $18, updated_at = $19
		 WHERE id = $20 AND version = $21`,
		nullStr(lead.FullName), nullStr(lead.LinkedInURL), nullStr(lead.Email),
		nullStr(lead.Company), nullStr(lead.NormalizedCompany),
		string(lead.State), nullStr(lead.DropReason), string(lead.Confidence),
		nullStr(lead.ExternalRef), newVersion, nullStr(lead.Notes), nullStr(lead.Owner),
		nullStr(keys.Exact), nullStr(keys.Fuzzy),
		lead.DiscoveredAt, lead.VerifiedAt, lead.EnrichedAt, lead.EngagedAt, now,
		lead.ID, expectVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", lead.ID)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM leads WHERE id = $1`, lead.ID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "id %s", lead.ID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lead exists %s", lead.ID)
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
	if err := pgInsertProvenance(ctx, tx, prov); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit update lead")
	}

	lead.Version = newVersion
	lead.UpdatedAt = now
	lead.Provenance = append(lead.Provenance, prov...)
	return nil
}

func pgInsertProvenance(ctx context.Context, tx pgx.Tx, entries []model.ProvenanceEntry) error {
	for _, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO lead_provenance (lead_id, origin, field, value, stage, version, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.LeadID, e.Origin, nullStr(e.Field), nullStr(e.Value), nullStr(e.Stage), e.Version, e.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert provenance for %s", e.LeadID)
		}
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	lead, err := s.getLeadWhere(ctx, "id = $1", id)
	if err != nil {
		return nil, err
	}
	lead.Provenance, err = s.ListProvenance(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *PostgresStore) GetLeadByFingerprint(ctx context.Context, exact string) (*model.Lead, error) {
	return s.getLeadWhere(ctx, "fingerprint = $1", exact)
}

func (s *PostgresStore) GetLeadByExternalRef(ctx context.Context, ref string) (*model.Lead, error) {
	return s.getLeadWhere(ctx, "external_ref = $1", ref)
}

func (s *PostgresStore) getLeadWhere(ctx context.Context, where string, args ...any) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+where, args...)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, where)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead by %s", where)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	var conds []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.State != "" {
		conds = append(conds, "lifecycle_state = "+arg(string(filter.State)))
	}
	if filter.NeedsPush {
		conds = append(conds, "version > synced_version", "sync_error = false")
	}
	if filter.SyncError != nil {
		conds = append(conds, "sync_error = "+arg(*filter.SyncError))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()
	return pgCollectLeads(rows)
}

func (s *PostgresStore) SearchFuzzy(ctx context.Context, tokens []string, limit int) ([]model.Lead, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []any
	for i, tok := range tokens {
		conds = append(conds, fmt.Sprintf("position($%d in fuzzy_tokens) > 0", i+1))
		args = append(args, tok)
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE fuzzy_tokens IS NOT NULL AND (`+
			strings.Join(conds, " OR ")+fmt.Sprintf(`) LIMIT $%d`, len(args)),
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search fuzzy")
	}
	defer rows.Close()
	return pgCollectLeads(rows)
}

func (s *PostgresStore) ListProvenance(ctx context.Context, leadID string) ([]model.ProvenanceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, origin, field, value, stage, version, created_at
		 FROM lead_provenance WHERE lead_id = $1 ORDER BY id ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list provenance %s", leadID)
	}
	defer rows.Close()

	var entries []model.ProvenanceEntry
	for rows.Next() {
		var e model.ProvenanceEntry
		var field, value, stage *string
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Origin, &field, &value, &stage, &e.Version, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provenance")
		}
		e.Field = deref(field)
		e.Value = deref(value)
		e.Stage = deref(stage)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: provenance rows")
}

func (s *PostgresStore) MarkSynced(ctx context.Context, id, externalRef string, version int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET external_ref = $1, synced_version = $2, sync_error = false WHERE id = $3`,
		nullStr(externalRef), version, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark synced %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) SetSyncError(ctx context.Context, id string, flagged bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET sync_error = $1 WHERE id = $2`, flagged, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set sync error %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) ClearSyncErrors(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE leads SET sync_error = false WHERE sync_error = true`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear sync errors")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Checkpoint(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT pulled_at FROM sync_checkpoint WHERE id = 1`).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "postgres: get checkpoint")
	}
	return t, nil
}

func (s *PostgresStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_checkpoint (id, pulled_at) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET pulled_at = EXCLUDED.pulled_at`,
		t.UTC(),
	)
	return eris.Wrap(err, "postgres: set checkpoint")
}

func (s *PostgresStore) CountByState(ctx context.Context) (map[model.LifecycleState]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lifecycle_state, COUNT(*) FROM leads GROUP BY lifecycle_state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by state")
	}
	defer rows.Close()

	counts := make(map[model.LifecycleState]int)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		counts[model.LifecycleState(state)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: state count rows")
}

func pgCollectLeads(rows pgx.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: lead rows")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
