package dedup

import (
	"strings"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// Key is the computed identity of a lead: an exact fingerprint when a
// unique identifier exists, plus normalized token sets for fuzzy matching.
type Key struct {
	Exact         string
	NameTokens    []string
	CompanyTokens []string
}

// Fingerprint computes the identity key for a lead. The exact key prefers
// the profile URL over the email address; when neither is present only the
// fuzzy tokens are populated.
func Fingerprint(l *model.Lead) Key {
	k := Key{
		NameTokens:    Tokens(NormalizeName(l.FullName)),
		CompanyTokens: Tokens(NormalizeCompany(l.Company)),
	}
	switch {
	case l.LinkedInURL != "":
		k.Exact = "url:" + strings.ToLower(strings.TrimRight(strings.TrimSpace(l.LinkedInURL), "/"))
	case l.Email != "":
		k.Exact = "email:" + strings.ToLower(strings.TrimSpace(l.Email))
	}
	return k
}

// FuzzyText renders the token sets as a single searchable string. Tokens are
// space-delimited so substring lookups in the store hit whole tokens.
func (k Key) FuzzyText() string {
	all := make([]string, 0, len(k.NameTokens)+len(k.CompanyTokens))
	all = append(all, k.NameTokens...)
	all = append(all, k.CompanyTokens...)
	if len(all) == 0 {
		return ""
	}
	return " " + strings.Join(all, " ") + " "
}

// StoreKeys converts the key into the persistence representation.
func (k Key) StoreKeys() store.Keys {
	return store.Keys{Exact: k.Exact, Fuzzy: k.FuzzyText()}
}
