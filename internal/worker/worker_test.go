package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

type fakeProvider struct {
	cands []model.RawCandidate
	err   error
}

func (f *fakeProvider) Discover(_ context.Context, _ string, _ int) ([]model.RawCandidate, error) {
	return f.cands, f.err
}

type fakeVerifier struct {
	ev  gate.VerifyEvidence
	err error
}

func (f *fakeVerifier) VerifyIdentity(_ context.Context, _ *model.Lead) (gate.VerifyEvidence, error) {
	return f.ev, f.err
}

type fakeEnricher struct {
	ev  gate.EnrichEvidence
	err error
}

func (f *fakeEnricher) FindContact(_ context.Context, _ *model.Lead) (gate.EnrichEvidence, error) {
	return f.ev, f.err
}

type fakeComposer struct{}

func (fakeComposer) Compose(_ context.Context, lead *model.Lead) (Message, error) {
	return Message{Subject: "hello " + lead.FullName, Body: "..."}, nil
}

type fakeTransport struct {
	mu   sync.Mutex
	ack  bool
	err  error
	sent []Message
}

func (f *fakeTransport) Send(_ context.Context, msg Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.ack, f.err
}

func newWorkerStore(t *testing.T) (store.Store, *dedup.Engine) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st, dedup.NewEngine(st, 0)
}

func seedLead(t *testing.T, engine *dedup.Engine, cand model.RawCandidate) *model.Lead {
	t.Helper()
	lead, _, err := engine.Upsert(context.Background(), dedup.LeadFromCandidate(cand), "seed")
	require.NoError(t, err)
	return lead
}

func TestDiscoverer_CreatesAndMerges(t *testing.T) {
	_, engine := newWorkerStore(t)
	provider := &fakeProvider{cands: []model.RawCandidate{
		{FullName: "Jane Doe", LinkedInURL: "https://linkedin.com/in/janedoe", Origin: "search"},
		{FullName: "Jane Doe", LinkedInURL: "https://linkedin.com/in/janedoe", Origin: "search"},
		{FullName: "John Smith", Company: "Frobozz Ltd", Origin: "search"},
	}}

	d := NewDiscoverer(engine, provider, Config{})
	sum, err := d.Run(context.Background(), []string{"ops leaders"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Created)
	assert.Equal(t, 1, sum.Merged)
}

func TestVerifier_AdvancesReachable(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
	})

	v := NewVerifier(st, &fakeVerifier{ev: gate.VerifyEvidence{Reachable: true, Signal: gate.SignalStrong}}, Config{})
	sum, err := v.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateVerified, stored.State)
	assert.NotNil(t, stored.VerifiedAt)
}

func TestVerifier_DropsUnreachableAndEnrichNeverSeesIt(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
	})

	v := NewVerifier(st, &fakeVerifier{ev: gate.VerifyEvidence{Reachable: false}}, Config{})
	sum, err := v.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Dropped)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDropped, stored.State)
	assert.Equal(t, gate.DropReasonUnverifiable, stored.DropReason)

	en := NewEnricher(st, engine, &fakeEnricher{}, Config{})
	sum, err = en.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Processed, "dropped lead must never reach enrich")
}

func TestVerifier_TransientFailureLeavesState(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
	})

	v := NewVerifier(st, &fakeVerifier{err: context.DeadlineExceeded}, Config{})
	sum, err := v.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Incomplete)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDiscovered, stored.State)
}

func TestEnricher_SetsEmailAndAdvances(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
	})
	advanceTo(t, st, lead.ID, model.StateVerified)

	en := NewEnricher(st, engine, &fakeEnricher{ev: gate.EnrichEvidence{
		Email:      "jane@acme.com",
		Confidence: model.ConfidenceVerified,
	}}, Config{})
	sum, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriched, stored.State)
	assert.Equal(t, "jane@acme.com", stored.Email)
	assert.Equal(t, model.ConfidenceVerified, stored.Confidence)
}

func TestEnricher_NoContactStaysVerified(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
	})
	advanceTo(t, st, lead.ID, model.StateVerified)

	en := NewEnricher(st, engine, &fakeEnricher{}, Config{})
	sum, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Incomplete)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateVerified, stored.State)
}

func TestEnricher_EmailCollisionMerges(t *testing.T) {
	st, engine := newWorkerStore(t)
	older := seedLead(t, engine, model.RawCandidate{
		FullName: "Jane Doe",
		Email:    "jane@acme.com",
	})
	newer := seedLead(t, engine, model.RawCandidate{
		FullName: "J. Doe",
		Company:  "Frobozz Ltd",
	})
	advanceTo(t, st, newer.ID, model.StateVerified)

	en := NewEnricher(st, engine, &fakeEnricher{ev: gate.EnrichEvidence{
		Email:      "jane@acme.com",
		Confidence: model.ConfidencePattern,
	}}, Config{})
	sum, err := en.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Merged)

	tomb, err := st.GetLead(context.Background(), newer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDropped, tomb.State)
	assert.Equal(t, dedup.DropReasonMerged, tomb.DropReason)

	survivor, err := st.GetLead(context.Background(), older.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", survivor.Email)
}

func TestEngager_SendsAndAdvances(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Email:       "jane@acme.com",
	})
	advanceTo(t, st, lead.ID, model.StateVerified)
	advanceTo(t, st, lead.ID, model.StateEnriched)

	transport := &fakeTransport{ack: true}
	eg := NewEngager(st, fakeComposer{}, transport, Config{})
	sum, err := eg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "jane@acme.com", transport.sent[0].To)
	assert.Equal(t, lead.ID, transport.sent[0].LeadID)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEngaged, stored.State)
}

func TestEngager_InvalidContactNeverSent(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Email:       "not-an-email",
	})
	advanceTo(t, st, lead.ID, model.StateVerified)
	advanceTo(t, st, lead.ID, model.StateEnriched)

	transport := &fakeTransport{ack: true}
	eg := NewEngager(st, fakeComposer{}, transport, Config{})
	sum, err := eg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Incomplete)
	assert.Empty(t, transport.sent, "invalid contact must never reach the transport")

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriched, stored.State)
}

func TestEngager_UnacknowledgedSendStaysEnriched(t *testing.T) {
	st, engine := newWorkerStore(t)
	lead := seedLead(t, engine, model.RawCandidate{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Email:       "jane@acme.com",
	})
	advanceTo(t, st, lead.ID, model.StateVerified)
	advanceTo(t, st, lead.ID, model.StateEnriched)

	eg := NewEngager(st, fakeComposer{}, &fakeTransport{ack: false}, Config{})
	sum, err := eg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Incomplete)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriched, stored.State)
}

func TestPipeline_RunOnce(t *testing.T) {
	st, engine := newWorkerStore(t)

	provider := &fakeProvider{cands: []model.RawCandidate{{
		FullName:    "Jane Doe",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Origin:      "search",
	}}}
	p := NewPipeline(
		NewDiscoverer(engine, provider, Config{}),
		NewVerifier(st, &fakeVerifier{ev: gate.VerifyEvidence{Reachable: true, Signal: gate.SignalStrong}}, Config{}),
		NewEnricher(st, engine, &fakeEnricher{ev: gate.EnrichEvidence{Email: "jane@acme.com", Confidence: model.ConfidenceVerified}}, Config{}),
		NewEngager(st, fakeComposer{}, &fakeTransport{ack: true}, Config{}),
		[]string{"ops leaders"},
	)

	summaries, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	// One pass moves a lead exactly one step per stage, so a fresh
	// discovery ends the pass fully engaged.
	leads, err := st.ListLeads(context.Background(), store.LeadFilter{State: model.StateEngaged})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "jane@acme.com", leads[0].Email)

	counts, err := st.CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StateEngaged])
}

// advanceTo walks a lead forward through the gate with synthetic evidence.
func advanceTo(t *testing.T, st store.Store, id string, target model.LifecycleState) {
	t.Helper()
	ctx := context.Background()
	for {
		lead, err := st.GetLead(ctx, id)
		require.NoError(t, err)
		if lead.State.Order() >= target.Order() {
			return
		}
		next, ok := lead.State.Next()
		require.True(t, ok)
		ev := gate.Evidence{Origin: "test", ObservedVersion: lead.Version}
		switch next {
		case model.StateVerified:
			ev.Verify = &gate.VerifyEvidence{Reachable: true, Signal: gate.SignalStrong}
		case model.StateEnriched:
			email := lead.Email
			if email == "" {
				email = "seed@example.com"
			}
			ev.Enrich = &gate.EnrichEvidence{Email: email, Confidence: model.ConfidencePattern}
		case model.StateEngaged:
			ev.Engage = &gate.EngageEvidence{Acknowledged: true}
		}
		updated, prov, err := gate.AttemptTransition(lead, next, ev)
		require.NoError(t, err)
		require.NoError(t, st.UpdateLead(ctx, updated, lead.Version, dedup.Fingerprint(updated).StoreKeys(), prov))
	}
}
