package dedup

// DefaultThreshold is the similarity score at or above which two fuzzy
// candidates are considered the same identity.
const DefaultThreshold = 0.82

// ambiguityBand flags near-threshold scores for logging so the cutoff can be
// tuned against real data.
const ambiguityBand = 0.05

// Similarity scores two keys in [0, 1] as the mean of the name and company
// token-set Jaccard indices. When one side of a dimension has no tokens that
// dimension is skipped rather than counted as zero, so a candidate missing a
// company is judged on name alone.
func Similarity(a, b Key) float64 {
	var sum float64
	var dims int
	if len(a.NameTokens) > 0 && len(b.NameTokens) > 0 {
		sum += jaccard(a.NameTokens, b.NameTokens)
		dims++
	}
	if len(a.CompanyTokens) > 0 && len(b.CompanyTokens) > 0 {
		sum += jaccard(a.CompanyTokens, b.CompanyTokens)
		dims++
	}
	if dims == 0 {
		return 0
	}
	return sum / float64(dims)
}

// jaccard computes |a ∩ b| / |a ∪ b| over sorted token sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, tok := range a {
		set[tok] = struct{}{}
	}
	var inter int
	for _, tok := range b {
		if _, ok := set[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
