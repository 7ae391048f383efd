package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/providers/common"
	"bookshelf/catalogservice/internal/search"
)

// Searcher is the slice of the search orchestrator the drivers need.
type Searcher interface {
	Search(ctx context.Context, query domain.SearchQuery) (search.Response, error)
}

// Detector recognizes book spines in a shelf photo.
type Detector interface {
	Detect(ctx context.Context, image []byte) (domain.DetectionResult, error)
}

const (
	defaultEnrichParallelism   = 2
	defaultConfidenceThreshold = 0.75
)

// Progress budget per stage. Enrichment owns the bulk of the bar.
const (
	progressAnalyzing = 0.05
	progressDetected  = 0.15
	progressEnrichEnd = 0.95
)

// Pipeline runs the scan and bulk-enrichment jobs against the registry.
// One Pipeline serves all jobs; per-job state lives in the registry actors.
type Pipeline struct {
	registry            *Registry
	searcher            Searcher
	detector            Detector
	parallelism         int64
	confidenceThreshold float64
	logger              *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithEnrichParallelism(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallelism = int64(n)
		}
	}
}

func WithConfidenceThreshold(threshold float64) PipelineOption {
	return func(p *Pipeline) {
		if threshold > 0 && threshold <= 1 {
			p.confidenceThreshold = threshold
		}
	}
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(registry *Registry, searcher Searcher, detector Detector, opts ...PipelineOption) *Pipeline {
	pipeline := &Pipeline{
		registry:            registry,
		searcher:            searcher,
		detector:            detector,
		parallelism:         defaultEnrichParallelism,
		confidenceThreshold: defaultConfidenceThreshold,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline
}

// RunScan executes the shelf-scan job: vision analysis, confidence
// partition, per-book metadata enrichment, final approved/needs-review
// split. Blocking; callers run it on its own goroutine.
func (p *Pipeline) RunScan(ctx context.Context, jobID string, image []byte) {
	if err := p.registry.Start(ctx, jobID, domain.JobTypeScan, 0); err != nil {
		p.logger.Warn("scan job not started", slog.String("jobId", jobID), slog.String("reason", err.Error()))
		return
	}
	p.registry.WaitReady(ctx, jobID)

	if p.detector == nil {
		p.fail(jobID, "vision collaborator not configured", nil)
		return
	}

	if err := p.push(ctx, jobID, domain.ProgressUpdate{
		Progress:      progressAnalyzing,
		CurrentStatus: "analyzing shelf photo",
	}); errors.Is(err, domain.ErrJobCanceled) {
		return
	}

	detection, err := p.detector.Detect(ctx, image)
	if err != nil {
		p.fail(jobID, fmt.Sprintf("vision detection failed: %v", err), nil)
		return
	}

	total := len(detection.Books)
	if err := p.push(ctx, jobID, domain.ProgressUpdate{
		Progress:      progressDetected,
		TotalItems:    total,
		CurrentStatus: fmt.Sprintf("detected %d books", total),
	}); errors.Is(err, domain.ErrJobCanceled) {
		return
	}

	enriched, enrichErr := p.enrichAll(ctx, jobID, detection.Books)
	if errors.Is(enrichErr, domain.ErrJobCanceled) {
		return
	}

	result := p.finalize(jobID, enriched)
	result.Suggestions = detection.Suggestions
	if err := p.registry.Complete(jobID, result); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		p.logger.Warn("scan job completion rejected", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
}

// RunEnrich executes the bulk-enrichment job over caller-supplied seeds.
func (p *Pipeline) RunEnrich(ctx context.Context, jobID string, seeds []domain.DetectedBook) {
	if err := p.registry.Start(ctx, jobID, domain.JobTypeEnrich, len(seeds)); err != nil {
		p.logger.Warn("enrich job not started", slog.String("jobId", jobID), slog.String("reason", err.Error()))
		return
	}
	p.registry.WaitReady(ctx, jobID)

	enriched, enrichErr := p.enrichAll(ctx, jobID, seeds)
	if errors.Is(enrichErr, domain.ErrJobCanceled) {
		return
	}

	result := p.finalize(jobID, enriched)
	if err := p.registry.Complete(jobID, result); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		p.logger.Warn("enrich job completion rejected", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
}

// enrichAll looks up every source with bounded parallelism. The durable
// cancel flag is re-checked at each item boundary via the push, so a
// cancellation stops the loop before the next item is dispatched.
func (p *Pipeline) enrichAll(ctx context.Context, jobID string, sources []domain.DetectedBook) ([]domain.EnrichedItem, error) {
	total := len(sources)
	items := make([]domain.EnrichedItem, total)
	if total == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(p.parallelism)
	var wg sync.WaitGroup
	span := progressEnrichEnd - progressDetected

	for i, source := range sources {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return items[:i], err
		}

		// The push doubles as the cancellation checkpoint. Acquiring the
		// slot first means a cancel set by an in-flight item is observed
		// here, before the next item is dispatched.
		err := p.push(ctx, jobID, domain.ProgressUpdate{
			Progress:       progressDetected + span*float64(i)/float64(total),
			ProcessedItems: i,
			TotalItems:     total,
			CurrentStatus:  fmt.Sprintf("enriching %d/%d: %s", i+1, total, source.Title),
		})
		if errors.Is(err, domain.ErrJobCanceled) {
			sem.Release(1)
			wg.Wait()
			return items[:i], domain.ErrJobCanceled
		}
		wg.Add(1)
		go func(index int, book domain.DetectedBook) {
			defer wg.Done()
			defer sem.Release(1)
			items[index] = p.enrichOne(ctx, book)
		}(i, source)
	}
	wg.Wait()

	_ = p.push(ctx, jobID, domain.ProgressUpdate{
		Progress:       progressEnrichEnd,
		ProcessedItems: total,
		TotalItems:     total,
		CurrentStatus:  "enrichment finished",
	})
	return items, nil
}

// enrichOne resolves one detected book against the aggregated catalogs.
// ISBN takes precedence over title because it is unambiguous.
func (p *Pipeline) enrichOne(ctx context.Context, source domain.DetectedBook) domain.EnrichedItem {
	item := domain.EnrichedItem{Source: source, Confidence: source.Confidence}

	query := domain.SearchQuery{Context: domain.ContextTitle, Text: source.Title, MaxResults: 3}
	if isbn := common.NormalizeISBN(source.ISBN); common.IsISBN(isbn) {
		query = domain.SearchQuery{Context: domain.ContextISBN, Text: isbn, MaxResults: 3}
	}

	response, err := p.searcher.Search(ctx, query)
	switch {
	case err != nil:
		item.Outcome = domain.EnrichmentError
		item.Error = err.Error()
	case response.Result.TotalItems == 0:
		item.Outcome = domain.EnrichmentNotFound
	default:
		match := response.Result.Items[0]
		item.Match = &match
		item.Outcome = domain.EnrichmentSuccess
	}
	return item
}

// finalize partitions outcomes by the confidence threshold. The split is
// informational; nothing is persisted or discarded here.
func (p *Pipeline) finalize(jobID string, items []domain.EnrichedItem) *domain.JobResult {
	result := &domain.JobResult{JobID: jobID}
	for _, item := range items {
		if item.Outcome == domain.EnrichmentSuccess && item.Confidence >= p.confidenceThreshold {
			result.Approved = append(result.Approved, item)
		} else {
			result.NeedsReview = append(result.NeedsReview, item)
		}
	}
	return result
}

func (p *Pipeline) push(ctx context.Context, jobID string, update domain.ProgressUpdate) error {
	err := p.registry.Push(ctx, jobID, update)
	if err != nil && !errors.Is(err, domain.ErrJobCanceled) {
		p.logger.Debug("progress push failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
	return err
}

func (p *Pipeline) fail(jobID, message string, result *domain.JobResult) {
	if err := p.registry.Fail(jobID, message, result); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		p.logger.Warn("job failure not recorded", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
}
