package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "leadpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testLead() *model.Lead {
	now := time.Now().UTC()
	return &model.Lead{
		FullName:          "Jane Doe",
		LinkedInURL:       "https://linkedin.com/in/janedoe",
		Company:           "Acme Inc",
		NormalizedCompany: "acme",
		State:             model.StateDiscovered,
		Confidence:        model.ConfidenceUnknown,
		DiscoveredAt:      &now,
		Provenance: []model.ProvenanceEntry{
			{Origin: "discovery", Stage: "discover"},
		},
	}
}

func testKeys() Keys {
	return Keys{Exact: "https://linkedin.com/in/janedoe", Fuzzy: "jane doe acme"}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, testKeys()))
	require.NotEmpty(t, lead.ID)
	assert.Equal(t, int64(1), lead.Version)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got.FullName)
	assert.Equal(t, model.StateDiscovered, got.State)
	assert.Equal(t, model.ConfidenceUnknown, got.Confidence)
	require.Len(t, got.Provenance, 1)
	assert.Equal(t, "discovery", got.Provenance[0].Origin)
	assert.Equal(t, int64(1), got.Provenance[0].Version)
	require.NotNil(t, got.DiscoveredAt)
	assert.Nil(t, got.VerifiedAt)
}

func TestSQLiteStore_GetLead_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_GetByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, testKeys()))

	got, err := s.GetLeadByFingerprint(ctx, "https://linkedin.com/in/janedoe")
	require.NoError(t, err)
	assert.Equal(t, lead.ID, got.ID)

	_, err = s.GetLeadByFingerprint(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateLead_BumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, testKeys()))

	now := time.Now().UTC()
	lead.State = model.StateVerified
	lead.VerifiedAt = &now
	prov := []model.ProvenanceEntry{{Origin: "verifier", Stage: "verify"}}
	require.NoError(t, s.UpdateLead(ctx, lead, 1, testKeys(), prov))
	assert.Equal(t, int64(2), lead.Version)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateVerified, got.State)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.VerifiedAt)
	require.Len(t, got.Provenance, 2)
	assert.Equal(t, int64(2), got.Provenance[1].Version)
}

func TestSQLiteStore_UpdateLead_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, testKeys()))

	stale := lead.Clone()
	lead.Notes = "first writer"
	require.NoError(t, s.UpdateLead(ctx, lead, 1, testKeys(), nil))

	stale.Notes = "second writer"
	err := s.UpdateLead(ctx, stale, 1, testKeys(), nil)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The first write is intact.
	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", got.Notes)
}

func TestSQLiteStore_UpdateLead_NotFound(t *testing.T) {
	s := newTestStore(t)
	lead := testLead()
	lead.ID = "ghost"
	err := s.UpdateLead(context.Background(), lead, 1, testKeys(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListLeads_ByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testLead()
	require.NoError(t, s.CreateLead(ctx, a, Keys{Exact: "a", Fuzzy: "a"}))

	b := testLead()
	b.State = model.StateVerified
	require.NoError(t, s.CreateLead(ctx, b, Keys{Exact: "b", Fuzzy: "b"}))

	discovered, err := s.ListLeads(ctx, LeadFilter{State: model.StateDiscovered})
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.Equal(t, a.ID, discovered[0].ID)

	all, err := s.ListLeads(ctx, LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_ListLeads_NeedsPush(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh := testLead()
	require.NoError(t, s.CreateLead(ctx, fresh, Keys{Exact: "fresh"}))

	synced := testLead()
	require.NoError(t, s.CreateLead(ctx, synced, Keys{Exact: "synced"}))
	require.NoError(t, s.MarkSynced(ctx, synced.ID, "ext-1", 1))

	quarantined := testLead()
	require.NoError(t, s.CreateLead(ctx, quarantined, Keys{Exact: "quarantined"}))
	require.NoError(t, s.SetSyncError(ctx, quarantined.ID, true))

	pending, err := s.ListLeads(ctx, LeadFilter{NeedsPush: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)
}

func TestSQLiteStore_SearchFuzzy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, Keys{Exact: "x", Fuzzy: "jane doe acme"}))

	hits, err := s.SearchFuzzy(ctx, []string{"jane"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = s.SearchFuzzy(ctx, []string{"zzz", "acme"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = s.SearchFuzzy(ctx, []string{"nobody"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteStore_MarkSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, testKeys()))
	require.NoError(t, s.MarkSynced(ctx, lead.ID, "sf-001", 1))

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "sf-001", got.ExternalRef)
	assert.Equal(t, int64(1), got.SyncedVersion)
	// Version untouched: sync bookkeeping is not a mutation.
	assert.Equal(t, int64(1), got.Version)

	byRef, err := s.GetLeadByExternalRef(ctx, "sf-001")
	require.NoError(t, err)
	assert.Equal(t, lead.ID, byRef.ID)
}

func TestSQLiteStore_SyncErrorQuarantine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := testLead()
	require.NoError(t, s.CreateLead(ctx, lead, testKeys()))
	require.NoError(t, s.SetSyncError(ctx, lead.ID, true))

	flagged := true
	quarantined, err := s.ListLeads(ctx, LeadFilter{SyncError: &flagged})
	require.NoError(t, err)
	require.Len(t, quarantined, 1)

	n, err := s.ClearSyncErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	quarantined, err = s.ListLeads(ctx, LeadFilter{SyncError: &flagged})
	require.NoError(t, err)
	assert.Empty(t, quarantined)
}

func TestSQLiteStore_Checkpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.True(t, t0.IsZero())

	mark := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCheckpoint(ctx, mark))

	got, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(mark))

	// Upsert overwrites.
	later := mark.Add(time.Hour)
	require.NoError(t, s.SetCheckpoint(ctx, later))
	got, err = s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(later))
}

func TestSQLiteStore_CountByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, state := range []model.LifecycleState{
		model.StateDiscovered, model.StateDiscovered, model.StateVerified, model.StateDropped,
	} {
		l := testLead()
		l.State = state
		require.NoError(t, s.CreateLead(ctx, l, Keys{Exact: string(rune('a' + i))}))
	}

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StateDiscovered])
	assert.Equal(t, 1, counts[model.StateVerified])
	assert.Equal(t, 1, counts[model.StateDropped])
}

func TestSQLiteStore_FingerprintUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateLead(ctx, testLead(), testKeys()))
	err := s.CreateLead(ctx, testLead(), testKeys())
	assert.Error(t, err, "duplicate fingerprint must be rejected by the store")
}
