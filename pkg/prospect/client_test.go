package prospect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/fetch"
	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	fc := fetch.NewClient(fetch.Options{
		Default: fetch.TargetConfig{MinInterval: time.Millisecond},
		Targets: map[string]fetch.TargetConfig{
			u.Host: {MinInterval: time.Millisecond, MaxRetries: 1},
		},
	})
	return NewClient(fc, "test-key", WithBaseURL(srv.URL))
}

func TestClient_Discover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "vp engineering fintech", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"name":"Jane Doe","profile_url":"https://linkedin.com/in/janedoe","company":"Acme"},
			{"name":"John Roe","email":"john@globex.com","company":"Globex"},
			{"name":"No Identity","company":"Initech"}
		]}`))
	}))
	defer srv.Close()

	candidates, err := testClient(t, srv).Discover(context.Background(), "vp engineering fintech", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2, "result without profile or email is dropped")

	assert.Equal(t, "Jane Doe", candidates[0].FullName)
	assert.Equal(t, "https://linkedin.com/in/janedoe", candidates[0].LinkedInURL)
	assert.Equal(t, Origin, candidates[0].Origin)
	assert.Equal(t, "john@globex.com", candidates[1].Email)
}

func TestClient_VerifyIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/profile":
			assert.Equal(t, "Jane Doe", r.URL.Query().Get("name"))
			_, _ = w.Write([]byte(`{"exists":true,"match":"exact"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv)
	lead := &model.Lead{ID: "l1", FullName: "Jane Doe", LinkedInURL: srv.URL + "/in/janedoe"}

	ev, err := c.VerifyIdentity(context.Background(), lead)
	require.NoError(t, err)
	assert.True(t, ev.Reachable)
	assert.Equal(t, gate.SignalStrong, ev.Signal)
}

func TestClient_VerifyIdentity_UnreachableProfile(t *testing.T) {
	profileCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		profileCalls++
		_, _ = w.Write([]byte(`{"exists":true,"match":"exact"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	lead := &model.Lead{ID: "l1", FullName: "Jane Doe", LinkedInURL: srv.URL + "/in/gone"}

	ev, err := c.VerifyIdentity(context.Background(), lead)
	require.NoError(t, err)
	assert.False(t, ev.Reachable)
	assert.Equal(t, gate.SignalNone, ev.Signal)
	assert.Zero(t, profileCalls, "dead profile short-circuits the match lookup")
}

func TestClient_VerifyIdentity_PartialMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exists":true,"match":"partial"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	lead := &model.Lead{ID: "l1", FullName: "Jane Doe", Email: "jane@acme.com"}

	ev, err := c.VerifyIdentity(context.Background(), lead)
	require.NoError(t, err)
	assert.True(t, ev.Reachable)
	assert.Equal(t, gate.SignalWeak, ev.Signal)
}

func TestClient_FindContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contacts", r.URL.Path)
		assert.Equal(t, "Acme", r.URL.Query().Get("company"))
		_, _ = w.Write([]byte(`{"email":"jane@acme.com","confidence":"pattern"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	lead := &model.Lead{ID: "l1", FullName: "Jane Doe", Company: "Acme"}

	ev, err := c.FindContact(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", ev.Email)
	assert.Equal(t, model.ConfidencePattern, ev.Confidence)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Discover(context.Background(), "query", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
