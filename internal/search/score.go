package search

import (
	"bookshelf/catalogservice/internal/domain"
)

// Weights are the quality-scoring policy knobs. The numeric values are
// heuristics tuned empirically, configurable rather than contractual.
type Weights struct {
	ItemCount    float64
	Completeness float64
	Affinity     float64
	Relevance    float64
}

func DefaultWeights() Weights {
	return Weights{
		ItemCount:    1.0,
		Completeness: 2.0,
		Affinity:     1.5,
		Relevance:    2.0,
	}
}

// normalize replaces negative weights with the defaults. Zero is a valid
// explicit value: it disables that scoring factor.
func (w Weights) normalize() Weights {
	clamp := func(value, fallback float64) float64 {
		if value < 0 {
			return fallback
		}
		return value
	}
	defaults := DefaultWeights()
	w.ItemCount = clamp(w.ItemCount, defaults.ItemCount)
	w.Completeness = clamp(w.Completeness, defaults.Completeness)
	w.Affinity = clamp(w.Affinity, defaults.Affinity)
	w.Relevance = clamp(w.Relevance, defaults.Relevance)
	return w
}

// providerAffinity is the static priority table per {provider, context}
// pair. It encodes which catalog is authoritative for which kind of query.
var providerAffinity = map[string]map[domain.SearchContext]float64{
	"googlebooks": {
		domain.ContextTitle:   1.0,
		domain.ContextSubject: 0.9,
		domain.ContextISBN:    1.0,
		domain.ContextAuthor:  0.5,
	},
	"openlibrary": {
		domain.ContextTitle:   0.7,
		domain.ContextSubject: 0.8,
		domain.ContextISBN:    0.8,
		domain.ContextAuthor:  1.0,
	},
	"isbndb": {
		domain.ContextTitle: 0.5,
		domain.ContextISBN:  0.9,
	},
}

func affinityFor(provider string, context domain.SearchContext) float64 {
	if byContext, ok := providerAffinity[provider]; ok {
		return byContext[context]
	}
	return 0.3
}

const (
	itemCountCap    = 10
	relevanceTopN   = 3
	completenessCap = 1.0
)

// scoreResultSet rates one provider's result set for primary selection:
// capped item count, average metadata completeness, provider-context
// affinity, and text relevance of the top items to the query.
func scoreResultSet(result domain.ProviderResult, query domain.SearchQuery, weights Weights) float64 {
	if !result.Success || len(result.Items) == 0 {
		return 0
	}

	count := len(result.Items)
	if count > itemCountCap {
		count = itemCountCap
	}
	countScore := float64(count) / float64(itemCountCap)

	completeness := 0.0
	for _, item := range result.Items {
		completeness += itemCompleteness(item)
	}
	completeness /= float64(len(result.Items))
	if completeness > completenessCap {
		completeness = completenessCap
	}

	affinity := affinityFor(result.ProviderID, query.Context)

	relevance := 0.0
	top := len(result.Items)
	if top > relevanceTopN {
		top = relevanceTopN
	}
	for _, item := range result.Items[:top] {
		relevance += queryRelevance(query, item)
	}
	if top > 0 {
		relevance /= float64(top)
	}

	return weights.ItemCount*countScore +
		weights.Completeness*completeness +
		weights.Affinity*affinity +
		weights.Relevance*relevance
}

// queryRelevance measures token overlap between the query text and the
// item's title (author context compares against authors instead).
func queryRelevance(query domain.SearchQuery, item domain.CatalogItem) float64 {
	queryTokens := tokenSet(query.Text)
	if len(queryTokens) == 0 {
		return 0
	}

	var target map[string]struct{}
	if query.Context == domain.ContextAuthor {
		target = make(map[string]struct{})
		for _, author := range item.Authors {
			for token := range tokenSet(author) {
				target[token] = struct{}{}
			}
		}
	} else {
		target = tokenSet(item.Title)
	}
	if len(target) == 0 {
		return 0
	}

	matched := 0
	for token := range queryTokens {
		if _, ok := target[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// itemQuality orders duplicate candidates: metadata completeness first,
// provider affinity for the query context as tiebreak.
func itemQuality(item domain.CatalogItem, context domain.SearchContext) float64 {
	return itemCompleteness(item) + 0.1*affinityFor(item.Provider, context)
}
