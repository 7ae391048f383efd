package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bookshelf/catalogservice/internal/domain"
)

// maxConcurrentProviders bounds the per-query fan-out so a wide provider
// roster cannot overwhelm the process or the remote catalogs.
const maxConcurrentProviders = 4

// maxConcurrentEnhancements bounds the per-item edition lookups in the
// author topology.
const maxConcurrentEnhancements = 3

// editionLookupLimit caps how many editions one enhancement call requests.
const editionLookupLimit = 3

// Search is the single entry point callers use: cache lookup, aggregation
// on miss, fire-and-forget cache write on success.
func (s *Service) Search(ctx context.Context, query domain.SearchQuery) (Response, error) {
	prepared, err := s.prepareQuery(query)
	if err != nil {
		return Response{}, err
	}

	startedAt := time.Now()

	if !s.cacheDisabled {
		key := buildCacheKey(prepared)
		if cached, ok := s.cacheLookup(ctx, key, prepared.Context, startedAt); ok {
			return Response{
				Query:          prepared,
				Result:         cached,
				Cached:         true,
				ResponseTimeMS: time.Since(startedAt).Milliseconds(),
			}, nil
		}
	}

	result, err := s.aggregate(ctx, prepared)
	if err != nil {
		return Response{}, err
	}

	// Empty successes are returned but never cached, so a later retry can
	// still find late-arriving catalog data.
	if !s.cacheDisabled && result.TotalItems > 0 {
		s.cacheStoreAsync(buildCacheKey(prepared), prepared.Context, result)
	}

	return Response{
		Query:          prepared,
		Result:         result,
		Cached:         false,
		ResponseTimeMS: time.Since(startedAt).Milliseconds(),
	}, nil
}

func (s *Service) prepareQuery(query domain.SearchQuery) (domain.SearchQuery, error) {
	if len(s.providers) == 0 {
		return domain.SearchQuery{}, ErrNoProviders
	}
	query.Text = NormalizeText(query.Text)
	if query.Text == "" {
		return domain.SearchQuery{}, ErrInvalidQuery
	}
	return query.Normalize(), nil
}

// aggregate decides the execution topology by context, runs the adapters
// and merges their results.
func (s *Service) aggregate(ctx context.Context, query domain.SearchQuery) (domain.AggregatedResult, error) {
	selected, err := s.providersFor(query)
	if err != nil {
		return domain.AggregatedResult{}, err
	}
	if len(selected) == 0 {
		return domain.AggregatedResult{}, ErrNoProviders
	}

	var results []domain.ProviderResult
	if query.Context == domain.ContextAuthor {
		results = s.runAuthorTopology(ctx, query, selected)
	} else {
		results = s.runParallel(ctx, query, selected)
	}

	return s.mergeResults(query, selected, results)
}

// runParallel fans out to every adapter concurrently. Results are merged
// only after all settle or time out; there is no shared state between the
// provider calls themselves.
func (s *Service) runParallel(ctx context.Context, query domain.SearchQuery, selected []Provider) []domain.ProviderResult {
	results := make([]domain.ProviderResult, len(selected))
	sem := semaphore.NewWeighted(maxConcurrentProviders)
	var wg sync.WaitGroup

	for i, provider := range selected {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()
			name := strings.ToLower(strings.TrimSpace(current.Name()))

			if err := sem.Acquire(ctx, 1); err != nil {
				results[index] = domain.ProviderResult{ProviderID: name, Err: "context canceled"}
				return
			}
			defer sem.Release(1)

			results[index] = s.callProvider(ctx, current, query)
		}(i, provider)
	}
	wg.Wait()
	return results
}

// runAuthorTopology queries the canonical-bibliography provider first and
// then enhances each base item with bounded-parallel edition lookups.
// Enhancement failures are captured without discarding the base item.
func (s *Service) runAuthorTopology(ctx context.Context, query domain.SearchQuery, selected []Provider) []domain.ProviderResult {
	var primary Provider
	for _, provider := range selected {
		if normalizeProviderName(provider.Name()) == s.authorPrimary {
			primary = provider
			break
		}
	}
	if primary == nil {
		// No designated canonical source in the selection; degrade to
		// plain fan-out.
		return s.runParallel(ctx, query, selected)
	}

	base := s.callProvider(ctx, primary, query)
	if !base.Success {
		// Primary failure must not take the whole query down while
		// healthy secondaries remain; keep the failed result so the
		// response still reports it.
		rest := make([]Provider, 0, len(selected)-1)
		for _, provider := range selected {
			if provider != primary {
				rest = append(rest, provider)
			}
		}
		if len(rest) == 0 {
			return []domain.ProviderResult{base}
		}
		return append([]domain.ProviderResult{base}, s.runParallel(ctx, query, rest)...)
	}
	if len(base.Items) == 0 {
		return []domain.ProviderResult{base}
	}

	lister, ok := primary.(EditionLister)
	if !ok {
		return []domain.ProviderResult{base}
	}

	sem := semaphore.NewWeighted(maxConcurrentEnhancements)
	var wg sync.WaitGroup
	enhanced := make([]domain.CatalogItem, len(base.Items))
	copy(enhanced, base.Items)

	for i := range enhanced {
		workKey := enhanced[i].Identifiers.ProviderNativeID
		if workKey == "" {
			continue
		}
		wg.Add(1)
		go func(index int, key string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			editions, err := lister.Editions(callCtx, key, editionLookupLimit)
			if err != nil {
				s.logger.Debug("edition enhancement failed",
					slog.String("work", key),
					slog.String("error", err.Error()),
				)
				return
			}
			for _, edition := range editions {
				mergeMissingFields(&enhanced[index], edition)
			}
		}(i, workKey)
	}
	wg.Wait()

	base.Items = enhanced
	return []domain.ProviderResult{base}
}

// callProvider wraps one adapter invocation: circuit-breaker gate, hard
// per-call timeout, retry on transient failures, latency recording. All
// provider-specific errors end up inside the ProviderResult.
func (s *Service) callProvider(ctx context.Context, provider Provider, query domain.SearchQuery) domain.ProviderResult {
	name := strings.ToLower(strings.TrimSpace(provider.Name()))
	now := time.Now()

	if blocked, until, lastErr := s.isProviderBlocked(name, now); blocked {
		return domain.ProviderResult{
			ProviderID: name,
			Err:        "provider temporarily unhealthy until " + until.UTC().Format(time.RFC3339) + ": " + lastErr,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startedAt := time.Now()
	var items []domain.CatalogItem
	searchErr := RetryWithBackoff(callCtx, DefaultRetryConfig(), func() error {
		var err error
		items, err = provider.Search(callCtx, query)
		return err
	})
	latency := time.Since(startedAt)
	s.recordProviderResult(name, query.Text, searchErr, latency, time.Now())

	result := domain.ProviderResult{
		ProviderID: name,
		LatencyMS:  latency.Milliseconds(),
	}
	if searchErr != nil {
		result.Err = searchErr.Error()
		s.logger.Warn("provider search failed",
			slog.String("provider", name),
			slog.String("context", string(query.Context)),
			slog.Int64("latencyMs", result.LatencyMS),
			slog.String("error", searchErr.Error()),
		)
		return result
	}

	result.Success = true
	result.Items = items
	return result
}

// mergeResults dedupes and cross-enhances the successful result sets,
// scores them to select the primary provider, and paginates.
func (s *Service) mergeResults(query domain.SearchQuery, selected []Provider, results []domain.ProviderResult) (domain.AggregatedResult, error) {
	contributing := make([]string, 0, len(results))
	failed := make([]string, 0, len(results))
	anySuccess := false
	for _, result := range results {
		if result.Success {
			anySuccess = true
			if len(result.Items) > 0 {
				contributing = append(contributing, result.ProviderID)
			}
		} else {
			failed = append(failed, result.ProviderID)
		}
	}
	if !anySuccess {
		return domain.AggregatedResult{}, ErrAllProvidersUnavailable
	}

	// Primary selection by result-set quality score.
	primaryProvider := ""
	primaryScore := 0.0
	for _, result := range results {
		score := scoreResultSet(result, query, s.weights)
		if score > primaryScore {
			primaryScore = score
			primaryProvider = result.ProviderID
		}
	}

	// Merge in provider-priority order (the selected slice is already
	// sorted by context affinity), first-seen within a provider.
	merged := make([]domain.CatalogItem, 0)
	for _, provider := range selected {
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		for _, result := range results {
			if result.ProviderID != name || !result.Success {
				continue
			}
			for _, item := range result.Items {
				merged = mergeItem(merged, item, query.Context)
			}
		}
	}

	total := len(merged)
	totalPages := 0
	if query.MaxResults > 0 {
		totalPages = (total + query.MaxResults - 1) / query.MaxResults
	}

	// Page window over the merged set.
	start := (query.Page - 1) * query.MaxResults
	if start > total {
		start = total
	}
	end := start + query.MaxResults
	if end > total {
		end = total
	}

	return domain.AggregatedResult{
		Items:                 merged[start:end],
		TotalItems:            total,
		PrimaryProvider:       primaryProvider,
		ContributingProviders: contributing,
		FailedProviders:       failed,
		QualityScore:          primaryScore,
		Pagination: domain.Pagination{
			Page:       query.Page,
			MaxResults: query.MaxResults,
			TotalPages: totalPages,
		},
	}, nil
}

// mergeItem collapses candidate duplicates, keeping the higher-quality
// record and attributing the other's identifiers and missing metadata
// onto it.
func mergeItem(merged []domain.CatalogItem, candidate domain.CatalogItem, context domain.SearchContext) []domain.CatalogItem {
	for i := range merged {
		if !candidateDuplicates(merged[i], candidate) {
			continue
		}
		if itemQuality(candidate, context) > itemQuality(merged[i], context) {
			kept := candidate
			mergeMissingFields(&kept, merged[i])
			merged[i] = kept
		} else {
			mergeMissingFields(&merged[i], candidate)
		}
		return merged
	}
	return append(merged, candidate)
}
