package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr            string
	LogLevel            string
	LogFormat           string
	UserAgent           string
	ProviderTimeout     time.Duration
	GoogleBooksEndpoint string
	GoogleBooksAPIKey   string
	OpenLibraryEndpoint string
	ISBNdbEndpoint      string
	ISBNdbAPIKey        string
	ISBNdbMinInterval   time.Duration
	VisionEndpoint      string
	VisionAPIKey        string
	VisionTimeout       time.Duration
	RedisURL            string
	CacheDisabled       bool
	CacheTTLTitle       time.Duration
	CacheTTLAuthor      time.Duration
	CacheTTLSubject     time.Duration
	CacheTTLISBN        time.Duration
	ReadyTimeout        time.Duration
	EnrichParallelism   int
	ConfidenceThreshold float64
	ScoreWeights        ScoreWeights
}

// ScoreWeights are the quality-scoring policy knobs. They are heuristics,
// not a contract; tests assert ordering properties rather than exact values.
type ScoreWeights struct {
	ItemCount    float64
	Completeness float64
	Affinity     float64
	Relevance    float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:           getEnv("CATALOG_USER_AGENT", "bookshelf-catalog/1.0"),
		ProviderTimeout:     time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 5)) * time.Second,
		GoogleBooksEndpoint: getEnv("PROVIDER_GOOGLEBOOKS_ENDPOINT", "https://www.googleapis.com/books/v1/volumes"),
		GoogleBooksAPIKey:   strings.TrimSpace(os.Getenv("PROVIDER_GOOGLEBOOKS_API_KEY")),
		OpenLibraryEndpoint: getEnv("PROVIDER_OPENLIBRARY_ENDPOINT", "https://openlibrary.org"),
		ISBNdbEndpoint:      getEnv("PROVIDER_ISBNDB_ENDPOINT", "https://api2.isbndb.com"),
		ISBNdbAPIKey:        strings.TrimSpace(os.Getenv("PROVIDER_ISBNDB_API_KEY")),
		ISBNdbMinInterval:   time.Duration(getEnvInt("PROVIDER_ISBNDB_MIN_INTERVAL_MS", 1000)) * time.Millisecond,
		VisionEndpoint:      getEnv("VISION_ENDPOINT", ""),
		VisionAPIKey:        strings.TrimSpace(os.Getenv("VISION_API_KEY")),
		VisionTimeout:       time.Duration(getEnvInt("VISION_TIMEOUT_SECONDS", 30)) * time.Second,
		RedisURL:            getEnv("REDIS_URL", ""),
		CacheDisabled:       getEnvBool("SEARCH_CACHE_DISABLED", false),
		CacheTTLTitle:       time.Duration(getEnvInt("CACHE_TTL_TITLE_HOURS", 24)) * time.Hour,
		CacheTTLAuthor:      time.Duration(getEnvInt("CACHE_TTL_AUTHOR_HOURS", 168)) * time.Hour,
		CacheTTLSubject:     time.Duration(getEnvInt("CACHE_TTL_SUBJECT_HOURS", 72)) * time.Hour,
		CacheTTLISBN:        time.Duration(getEnvInt("CACHE_TTL_ISBN_HOURS", 72)) * time.Hour,
		ReadyTimeout:        time.Duration(getEnvInt("JOB_READY_TIMEOUT_SECONDS", 5)) * time.Second,
		EnrichParallelism:   getEnvInt("JOB_ENRICH_PARALLELISM", 2),
		ConfidenceThreshold: getEnvFloat("SCAN_CONFIDENCE_THRESHOLD", 0.75),
		ScoreWeights: ScoreWeights{
			ItemCount:    getEnvFloat("SCORE_WEIGHT_ITEM_COUNT", 1.0),
			Completeness: getEnvFloat("SCORE_WEIGHT_COMPLETENESS", 2.0),
			Affinity:     getEnvFloat("SCORE_WEIGHT_AFFINITY", 1.5),
			Relevance:    getEnvFloat("SCORE_WEIGHT_RELEVANCE", 2.0),
		},
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
