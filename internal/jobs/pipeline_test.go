package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/search"
)

type fakeSearcher struct {
	fn    func(query domain.SearchQuery) (search.Response, error)
	calls atomic.Int32
}

func (f *fakeSearcher) Search(ctx context.Context, query domain.SearchQuery) (search.Response, error) {
	_ = ctx
	f.calls.Add(1)
	return f.fn(query)
}

type fakeDetector struct {
	result domain.DetectionResult
	err    error
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte) (domain.DetectionResult, error) {
	_ = ctx
	_ = image
	return f.result, f.err
}

func foundResponse(title string) (search.Response, error) {
	return search.Response{
		Result: domain.AggregatedResult{
			Items:      []domain.CatalogItem{{Title: title}},
			TotalItems: 1,
		},
	}, nil
}

func readyRegistry(t *testing.T, jobID string) (*Registry, *fakeTransport) {
	t.Helper()
	registry := NewRegistry(WithReadyTimeout(100 * time.Millisecond))
	transport := &fakeTransport{}
	if err := registry.Attach(jobID, transport); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := registry.MarkReady(jobID); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	return registry, transport
}

func TestScanPipelineEndToEnd(t *testing.T) {
	registry, transport := readyRegistry(t, "scan-1")
	detector := &fakeDetector{result: domain.DetectionResult{
		Books: []domain.DetectedBook{
			{Title: "The Martian", ISBN: "978-0-553-41802-6", Confidence: 0.93},
			{Title: "blurry spine", Confidence: 0.41},
			{Title: "unknown book", Confidence: 0.88},
		},
		Suggestions: []domain.ScanSuggestion{{Type: "glare", Severity: "low"}},
	}}
	searcher := &fakeSearcher{fn: func(query domain.SearchQuery) (search.Response, error) {
		switch {
		case query.Context == domain.ContextISBN:
			return foundResponse("The Martian")
		case query.Text == "blurry spine":
			return foundResponse("Blurry Spine")
		default:
			return search.Response{}, nil
		}
	}}

	pipeline := NewPipeline(registry, searcher, detector, WithConfidenceThreshold(0.75))
	pipeline.RunScan(context.Background(), "scan-1", []byte("fake image"))

	snapshot, err := registry.SnapshotOf("scan-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Job.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", snapshot.Job.Status)
	}
	if snapshot.Result == nil {
		t.Fatal("completed scan must carry a result")
	}
	if len(snapshot.Result.Approved) != 1 || snapshot.Result.Approved[0].Source.Title != "The Martian" {
		t.Fatalf("approved = %+v", snapshot.Result.Approved)
	}
	// Low confidence match and the not-found item both need review.
	if len(snapshot.Result.NeedsReview) != 2 {
		t.Fatalf("needsReview = %+v", snapshot.Result.NeedsReview)
	}
	if len(snapshot.Result.Suggestions) != 1 {
		t.Fatalf("suggestions lost: %+v", snapshot.Result.Suggestions)
	}

	types := transport.frameTypes()
	if types[len(types)-1] != "completed" {
		t.Fatalf("last frame = %q, want completed (all: %v)", types[len(types)-1], types)
	}
}

func TestScanFailsWhenVisionFails(t *testing.T) {
	registry, transport := readyRegistry(t, "scan-1")
	detector := &fakeDetector{err: errors.New("image too dark")}
	searcher := &fakeSearcher{fn: func(domain.SearchQuery) (search.Response, error) {
		t.Error("searcher must not be called when detection fails")
		return search.Response{}, nil
	}}

	NewPipeline(registry, searcher, detector).RunScan(context.Background(), "scan-1", nil)

	snapshot, err := registry.SnapshotOf("scan-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Job.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", snapshot.Job.Status)
	}
	if !strings.Contains(snapshot.Job.StatusText, "image too dark") {
		t.Fatalf("failure message lost: %q", snapshot.Job.StatusText)
	}
	types := transport.frameTypes()
	if types[len(types)-1] != "failed" {
		t.Fatalf("last frame = %q, want failed", types[len(types)-1])
	}
}

func TestEnrichOutcomePartition(t *testing.T) {
	registry, _ := readyRegistry(t, "enrich-1")
	searcher := &fakeSearcher{fn: func(query domain.SearchQuery) (search.Response, error) {
		switch query.Text {
		case "found book":
			return foundResponse("Found Book")
		case "missing book":
			return search.Response{}, nil
		default:
			return search.Response{}, search.ErrAllProvidersUnavailable
		}
	}}

	pipeline := NewPipeline(registry, searcher, nil, WithEnrichParallelism(1))
	pipeline.RunEnrich(context.Background(), "enrich-1", []domain.DetectedBook{
		{Title: "found book", Confidence: 0.9},
		{Title: "missing book", Confidence: 0.9},
		{Title: "broken book", Confidence: 0.9},
	})

	snapshot, err := registry.SnapshotOf("enrich-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Job.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", snapshot.Job.Status)
	}
	if len(snapshot.Result.Approved) != 1 {
		t.Fatalf("approved = %+v", snapshot.Result.Approved)
	}
	if got := snapshot.Result.Approved[0].Outcome; got != domain.EnrichmentSuccess {
		t.Fatalf("approved outcome = %s", got)
	}
	outcomes := map[domain.EnrichmentOutcome]int{}
	for _, item := range snapshot.Result.NeedsReview {
		outcomes[item.Outcome]++
	}
	if outcomes[domain.EnrichmentNotFound] != 1 || outcomes[domain.EnrichmentError] != 1 {
		t.Fatalf("needsReview outcomes = %v", outcomes)
	}
}

func TestCancelStopsBeforeNextItem(t *testing.T) {
	registry, _ := readyRegistry(t, "enrich-1")

	searcher := &fakeSearcher{}
	searcher.fn = func(query domain.SearchQuery) (search.Response, error) {
		// The fourth item's lookup triggers the client-side cancel and only
		// returns once the cancel has fully landed.
		if searcher.calls.Load() == 4 {
			if err := registry.Cancel(context.Background(), "enrich-1"); err != nil {
				t.Errorf("cancel: %v", err)
			}
		}
		return foundResponse(query.Text)
	}

	seeds := make([]domain.DetectedBook, 10)
	for i := range seeds {
		seeds[i] = domain.DetectedBook{Title: "book", Confidence: 0.9}
	}

	pipeline := NewPipeline(registry, searcher, nil, WithEnrichParallelism(1))
	pipeline.RunEnrich(context.Background(), "enrich-1", seeds)

	if got := searcher.calls.Load(); got != 4 {
		t.Fatalf("items 1-4 process, item 5 must never start; searcher called %d times", got)
	}
	snapshot, err := registry.SnapshotOf("enrich-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Job.Status != domain.JobCanceled {
		t.Fatalf("status = %s, want canceled", snapshot.Job.Status)
	}
}

func TestSeedWithValidISBNSearchesByISBN(t *testing.T) {
	registry, _ := readyRegistry(t, "enrich-1")
	var seenContext domain.SearchContext
	var seenText string
	searcher := &fakeSearcher{fn: func(query domain.SearchQuery) (search.Response, error) {
		seenContext = query.Context
		seenText = query.Text
		return foundResponse("x")
	}}

	NewPipeline(registry, searcher, nil).RunEnrich(context.Background(), "enrich-1", []domain.DetectedBook{
		{Title: "The Martian", ISBN: "978-0-553-41802-6", Confidence: 1},
	})

	if seenContext != domain.ContextISBN {
		t.Fatalf("context = %s, want isbn", seenContext)
	}
	if seenText != "9780553418026" {
		t.Fatalf("text = %q, want normalized ISBN", seenText)
	}
}
