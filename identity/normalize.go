package identity

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalizer folds a name or email into the form used for lookups and
// uniqueness reservations.
type Normalizer interface {
	Normalize(value string) string
}

// FoldNormalizer applies NFKC normalization followed by Unicode case
// folding. This keeps lookups stable across case and compatibility variants
// (full-width forms, ligatures) where a plain upper-casing would not.
type FoldNormalizer struct{}

// Normalize returns the folded form of value.
func (FoldNormalizer) Normalize(value string) string {
	// cases.Caser is stateful, so a fresh one per call.
	return cases.Fold().String(norm.NFKC.String(value))
}
