package domain

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is absorbing: no transition leaves
// it and no further progress push is accepted once it is reached.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

type JobType string

const (
	JobTypeScan   JobType = "scan"
	JobTypeEnrich JobType = "enrich"
)

// Job is mutated only by its owning pipeline driver and by explicit
// cancellation, always through the registry.
type Job struct {
	JobID          string    `json:"jobId"`
	Type           JobType   `json:"type"`
	TotalItems     int       `json:"totalItems"`
	ProcessedItems int       `json:"processedItems"`
	Status         JobStatus `json:"status"`
	StatusText     string    `json:"currentStatusText,omitempty"`
}

// ProgressUpdate is one staged progress push from a driver.
type ProgressUpdate struct {
	Progress       float64 `json:"progress"`
	ProcessedItems int     `json:"processedItems"`
	TotalItems     int     `json:"totalItems"`
	CurrentStatus  string  `json:"currentStatus"`
	Error          string  `json:"error,omitempty"`
}

// ProgressMessage is the server-to-client wire frame on the job transport.
type ProgressMessage struct {
	Type      string         `json:"type"`
	JobID     string         `json:"jobId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      ProgressUpdate `json:"data"`
}

type EnrichmentOutcome string

const (
	EnrichmentSuccess  EnrichmentOutcome = "success"
	EnrichmentNotFound EnrichmentOutcome = "notFound"
	EnrichmentError    EnrichmentOutcome = "error"
)

// DetectedBook is one book the vision collaborator found in a shelf photo.
type DetectedBook struct {
	Title       string      `json:"title"`
	Author      string      `json:"author,omitempty"`
	ISBN        string      `json:"isbn,omitempty"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ScanSuggestion struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
}

// DetectionResult is the vision collaborator's response shape.
type DetectionResult struct {
	Books       []DetectedBook    `json:"books"`
	Suggestions []ScanSuggestion  `json:"suggestions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EnrichedItem ties a queued/detected book to its lookup outcome.
type EnrichedItem struct {
	Source     DetectedBook      `json:"source"`
	Match      *CatalogItem      `json:"match,omitempty"`
	Outcome    EnrichmentOutcome `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	Confidence float64           `json:"confidence"`
}

// JobResult is the final payload of a finished job. Items enriched before a
// mid-pipeline failure are retained.
type JobResult struct {
	JobID       string           `json:"jobId"`
	Approved    []EnrichedItem   `json:"approved"`
	NeedsReview []EnrichedItem   `json:"needsReview"`
	Suggestions []ScanSuggestion `json:"suggestions,omitempty"`
}
