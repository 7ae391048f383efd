package apihttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/jobs"
	"bookshelf/catalogservice/internal/search"
)

type SearchService interface {
	Search(ctx context.Context, query domain.SearchQuery) (search.Response, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

// JobRegistry is the slice of the job registry the HTTP layer touches.
type JobRegistry interface {
	Attach(jobID string, transport jobs.Transport) error
	Detach(jobID string, transport jobs.Transport)
	MarkReady(jobID string) error
	Cancel(ctx context.Context, jobID string) error
	SnapshotOf(jobID string) (jobs.Snapshot, error)
}

// JobRunner starts the pipeline drivers. RunScan and RunEnrich block until
// the job finishes, so the handlers launch them on their own goroutines.
type JobRunner interface {
	RunScan(ctx context.Context, jobID string, image []byte)
	RunEnrich(ctx context.Context, jobID string, seeds []domain.DetectedBook)
}

type Server struct {
	search SearchService
	jobs   JobRegistry
	runner JobRunner
	logger *slog.Logger
}

const (
	maxQueryLength = 500
	maxImageBytes  = 10 << 20
	maxSeedItems   = 200
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(searchService SearchService, registry JobRegistry, runner JobRunner, options ...ServerOption) *Server {
	server := &Server{
		search: searchService,
		jobs:   registry,
		runner: runner,
		logger: slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /providers", s.handleProviders)
	mux.HandleFunc("GET /providers/health", s.handleProvidersHealth)
	mux.HandleFunc("POST /jobs/scan", s.handleScanJob)
	mux.HandleFunc("POST /jobs/enrich", s.handleEnrichJob)
	mux.HandleFunc("GET /jobs/{jobId}", s.handleJobSnapshot)
	mux.HandleFunc("POST /jobs/{jobId}/ready", s.handleJobReady)
	mux.HandleFunc("POST /jobs/{jobId}/cancel", s.handleJobCancel)
	mux.HandleFunc("GET /ws/jobs/{jobId}", s.handleJobSocket)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "catalog-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(text) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	maxResults, err := parsePositiveInt(r, "maxResults", domain.DefaultMaxResults)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maxResults")
		return
	}
	page, err := parsePositiveInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid page")
		return
	}

	query := domain.SearchQuery{
		Context:    domain.NormalizeContext(strings.TrimSpace(r.URL.Query().Get("context"))),
		Text:       text,
		MaxResults: maxResults,
		Page:       page,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("providers")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				query.Providers = append(query.Providers, name)
			}
		}
	}

	response, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("context", string(query.Context)),
			slog.String("query", truncate(text, 80)),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, search.ErrInvalidQuery):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, search.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, "unknown_provider", err.Error())
		case errors.Is(err, search.ErrAllProvidersUnavailable):
			writeError(w, http.StatusServiceUnavailable, "all_providers_unavailable", err.Error())
		case errors.Is(err, search.ErrNoProviders):
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		}
		return
	}

	s.logger.Info("search completed",
		slog.String("context", string(query.Context)),
		slog.String("query", truncate(text, 80)),
		slog.Int("totalItems", response.Result.TotalItems),
		slog.Bool("cached", response.Cached),
		slog.Int64("elapsedMs", response.ResponseTimeMS),
		slog.Int("failedProviders", len(response.Result.FailedProviders)),
	)
	writeJSON(w, http.StatusOK, toVolumesResponse(response))
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.search.Providers()})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.search.ProviderDiagnostics()})
}

type scanJobRequest struct {
	JobID       string `json:"jobId"`
	ImageBase64 string `json:"imageBase64"`
}

// handleScanJob accepts either a JSON body with a base64 image or a
// multipart form with an "image" file field. It returns immediately; the
// pipeline runs in the background and progress flows over the job socket.
func (s *Server) handleScanJob(w http.ResponseWriter, r *http.Request) {
	var jobID string
	var image []byte

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart body")
			return
		}
		jobID = strings.TrimSpace(r.FormValue("jobId"))
		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "image file is required")
			return
		}
		defer file.Close()
		image, err = io.ReadAll(io.LimitReader(file, maxImageBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "could not read image")
			return
		}
	} else {
		var payload scanJobRequest
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		jobID = strings.TrimSpace(payload.JobID)
		if payload.ImageBase64 == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "imageBase64 is required")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(payload.ImageBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "imageBase64 is not valid base64")
			return
		}
		image = decoded
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "image payload is empty")
		return
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	go s.runner.RunScan(context.Background(), jobID, image)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":      jobID,
		"totalCount": 0,
		"status":     "started",
	})
}

type enrichSeed struct {
	Title      string  `json:"title"`
	Author     string  `json:"author,omitempty"`
	ISBN       string  `json:"isbn,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type enrichJobRequest struct {
	JobID string       `json:"jobId"`
	Items []enrichSeed `json:"items"`
}

func (s *Server) handleEnrichJob(w http.ResponseWriter, r *http.Request) {
	var payload enrichJobRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(payload.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "items are required")
		return
	}
	if len(payload.Items) > maxSeedItems {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("too many items (max %d)", maxSeedItems))
		return
	}

	seeds := make([]domain.DetectedBook, 0, len(payload.Items))
	for _, item := range payload.Items {
		title := strings.TrimSpace(item.Title)
		isbn := strings.TrimSpace(item.ISBN)
		if title == "" && isbn == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "each item needs a title or isbn")
			return
		}
		confidence := item.Confidence
		if confidence <= 0 {
			// Caller-supplied seeds are trusted unless they say otherwise.
			confidence = 1
		}
		seeds = append(seeds, domain.DetectedBook{
			Title:      title,
			Author:     strings.TrimSpace(item.Author),
			ISBN:       isbn,
			Confidence: confidence,
		})
	}

	jobID := strings.TrimSpace(payload.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}

	go s.runner.RunEnrich(context.Background(), jobID, seeds)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":      jobID,
		"totalCount": len(seeds),
		"status":     "started",
	})
}

func (s *Server) handleJobSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.jobs.SnapshotOf(r.PathValue("jobId"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleJobReady(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.MarkReady(r.PathValue("jobId")); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "ready signal failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(r.Context(), r.PathValue("jobId")); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("request body is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
