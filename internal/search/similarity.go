package search

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"bookshelf/catalogservice/internal/domain"
)

// titleSimilarityThreshold is the token-set Jaccard similarity above which
// two titles are considered the same work for dedupe purposes.
const titleSimilarityThreshold = 0.85

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var foldCaser = cases.Fold()

// NormalizeText case-folds and collapses whitespace. Queries are normalized
// with this before cache-key derivation, so equivalent queries share a key.
func NormalizeText(raw string) string {
	folded := foldCaser.String(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(folded), " ")
}

func tokenSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, match := range tokenPattern.FindAllString(foldCaser.String(raw), -1) {
		set[match] = struct{}{}
	}
	return set
}

// titleSimilarity computes token-set Jaccard similarity of two titles.
func titleSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// authorsOverlap reports whether any case-folded author name appears in both
// lists. Matching is by last-name token containment so "Weir, Andy" and
// "Andy Weir" still overlap.
func authorsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, left := range a {
		leftTokens := tokenSet(left)
		if len(leftTokens) == 0 {
			continue
		}
		for _, right := range b {
			rightTokens := tokenSet(right)
			if len(rightTokens) == 0 {
				continue
			}
			shared := 0
			for token := range leftTokens {
				if _, ok := rightTokens[token]; ok {
					shared++
				}
			}
			// Full name match, or both tokenizations agree on every token of
			// the shorter form (initials vs. full given names).
			smaller := len(leftTokens)
			if len(rightTokens) < smaller {
				smaller = len(rightTokens)
			}
			if shared > 0 && shared == smaller {
				return true
			}
		}
	}
	return false
}

// candidateDuplicates implements the dedupe rule: title similarity at or
// above the threshold with at least one overlapping author, or any shared
// non-empty identifier.
func candidateDuplicates(a, b domain.CatalogItem) bool {
	if a.Identifiers.SharesAny(b.Identifiers) {
		return true
	}
	if titleSimilarity(a.Title, b.Title) < titleSimilarityThreshold {
		return false
	}
	return authorsOverlap(a.Authors, b.Authors)
}

// itemCompleteness scores metadata presence in [0,1]: authors, published
// date, description, identifiers, cover.
func itemCompleteness(item domain.CatalogItem) float64 {
	score := 0.0
	if len(item.Authors) > 0 {
		score++
	}
	if item.PublishedDate != "" {
		score++
	}
	if item.Description != "" {
		score++
	}
	if !item.Identifiers.Empty() {
		score++
	}
	if item.CoverURL != "" {
		score++
	}
	return score / 5
}

// attributeIdentifiers copies identifiers from a duplicate onto the kept
// item without overwriting fields the kept item already has.
func attributeIdentifiers(kept *domain.CatalogItem, other domain.CatalogItem) {
	if kept.Identifiers.ISBN10 == "" {
		kept.Identifiers.ISBN10 = other.Identifiers.ISBN10
	}
	if kept.Identifiers.ISBN13 == "" {
		kept.Identifiers.ISBN13 = other.Identifiers.ISBN13
	}
	if kept.Identifiers.ProviderNativeID == "" {
		kept.Identifiers.ProviderNativeID = other.Identifiers.ProviderNativeID
	}
}

// mergeMissingFields fills metadata gaps in the kept item from a duplicate.
// Present fields are never overwritten.
func mergeMissingFields(kept *domain.CatalogItem, other domain.CatalogItem) {
	attributeIdentifiers(kept, other)
	if len(kept.Authors) == 0 {
		kept.Authors = other.Authors
	}
	if kept.Publisher == "" {
		kept.Publisher = other.Publisher
	}
	if kept.PublishedDate == "" {
		kept.PublishedDate = other.PublishedDate
	}
	if kept.Description == "" {
		kept.Description = other.Description
	}
	if kept.PageCount == 0 {
		kept.PageCount = other.PageCount
	}
	if len(kept.Categories) == 0 {
		kept.Categories = other.Categories
	}
	if kept.CoverURL == "" {
		kept.CoverURL = other.CoverURL
	}
}
