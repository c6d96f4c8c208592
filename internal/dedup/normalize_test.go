package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCompany(t *testing.T) {
	cases := map[string]string{
		"Acme Inc":           "acme",
		"ACME INC.":          "acme",
		"Acme, LLC":          "acme",
		"Acme Corp.":         "acme",
		"Frobozz Ltd":        "frobozz",
		"Müller GmbH":        "muller",
		"  Widget   Co  ":    "widget",
		"Plain Name":         "plain name",
		"Company of Company": "company of",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeCompany(in), "input %q", in)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "jane a doe", NormalizeName("Jane A. Doe"))
	assert.Equal(t, "jose garcia", NormalizeName("José García"))
	assert.Equal(t, "jane doe", NormalizeName("  JANE   DOE "))
}

func TestTokens(t *testing.T) {
	// Single-letter tokens drop out so middle initials do not split matches.
	assert.Equal(t, []string{"doe", "jane"}, Tokens("jane a doe"))
	assert.Equal(t, []string{"doe", "jane"}, Tokens("jane doe"))
	assert.Empty(t, Tokens(""))
	assert.Equal(t, []string{"acme"}, Tokens("acme acme"))
}

func TestSimilarity(t *testing.T) {
	a := Key{NameTokens: Tokens("jane doe"), CompanyTokens: Tokens("acme")}
	b := Key{NameTokens: Tokens("jane doe"), CompanyTokens: Tokens("acme")}
	assert.Equal(t, 1.0, Similarity(a, b))

	c := Key{NameTokens: Tokens("john doe"), CompanyTokens: Tokens("acme")}
	// Name Jaccard 1/3, company 1.0 -> mean 2/3.
	assert.InDelta(t, 2.0/3.0, Similarity(a, c), 1e-9)

	// Missing company on one side is skipped, not counted as zero.
	d := Key{NameTokens: Tokens("jane doe")}
	assert.Equal(t, 1.0, Similarity(a, d))

	assert.Zero(t, Similarity(Key{}, a))
}

func TestFingerprint(t *testing.T) {
	l := leadFixture()
	k := Fingerprint(l)
	assert.Equal(t, "url:https://linkedin.com/in/janedoe", k.Exact)
	assert.Equal(t, []string{"doe", "jane"}, k.NameTokens)
	assert.Equal(t, []string{"acme"}, k.CompanyTokens)

	l.LinkedInURL = ""
	k = Fingerprint(l)
	assert.Equal(t, "email:jane@acme.com", k.Exact)

	l.Email = ""
	k = Fingerprint(l)
	assert.Empty(t, k.Exact)
	assert.Equal(t, " doe jane acme ", k.FuzzyText())
}

func TestFingerprint_TrailingSlash(t *testing.T) {
	a := leadFixture()
	b := leadFixture()
	b.LinkedInURL = "HTTPS://LinkedIn.com/in/JaneDoe/"
	assert.Equal(t, Fingerprint(a).Exact, Fingerprint(b).Exact)
}
