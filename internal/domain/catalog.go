package domain

// SearchContext discriminates what kind of catalog lookup a query is.
// It selects the provider topology and the cache TTL.
type SearchContext string

const (
	ContextTitle   SearchContext = "title"
	ContextAuthor  SearchContext = "author"
	ContextSubject SearchContext = "subject"
	ContextISBN    SearchContext = "isbn"
)

func NormalizeContext(raw string) SearchContext {
	switch SearchContext(raw) {
	case ContextAuthor:
		return ContextAuthor
	case ContextSubject:
		return ContextSubject
	case ContextISBN:
		return ContextISBN
	default:
		return ContextTitle
	}
}

const (
	DefaultMaxResults = 10
	MaxMaxResults     = 40
)

// SearchQuery is immutable once constructed; Text is expected to be
// normalized (case-folded, whitespace-collapsed) before key derivation.
type SearchQuery struct {
	Context    SearchContext `json:"context"`
	Text       string        `json:"text"`
	MaxResults int           `json:"maxResults"`
	Page       int           `json:"page"`
	// Providers restricts the fan-out to the named adapters. Empty means
	// every adapter serving the context.
	Providers []string `json:"providers,omitempty"`
}

// Normalize clamps pagination to valid bounds without touching Text.
func (q SearchQuery) Normalize() SearchQuery {
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.MaxResults > MaxMaxResults {
		q.MaxResults = MaxMaxResults
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	q.Context = NormalizeContext(string(q.Context))
	return q
}

// Identifiers holds the edition identifiers a provider exposed for an item.
type Identifiers struct {
	ISBN10           string `json:"isbn10,omitempty"`
	ISBN13           string `json:"isbn13,omitempty"`
	ProviderNativeID string `json:"providerNativeId,omitempty"`
}

func (ids Identifiers) Empty() bool {
	return ids.ISBN10 == "" && ids.ISBN13 == "" && ids.ProviderNativeID == ""
}

// SharesAny reports whether two identifier sets have a non-empty value in common.
func (ids Identifiers) SharesAny(other Identifiers) bool {
	if ids.ISBN13 != "" && ids.ISBN13 == other.ISBN13 {
		return true
	}
	if ids.ISBN10 != "" && ids.ISBN10 == other.ISBN10 {
		return true
	}
	return ids.ProviderNativeID != "" && ids.ProviderNativeID == other.ProviderNativeID
}

// CatalogItem is the normalized book/edition record shared by all adapters.
type CatalogItem struct {
	Title         string      `json:"title"`
	Authors       []string    `json:"authors,omitempty"`
	Identifiers   Identifiers `json:"identifiers"`
	Publisher     string      `json:"publisher,omitempty"`
	PublishedDate string      `json:"publishedDate,omitempty"`
	Description   string      `json:"description,omitempty"`
	PageCount     int         `json:"pageCount,omitempty"`
	Categories    []string    `json:"categories,omitempty"`
	CoverURL      string      `json:"coverUrl,omitempty"`
	Provider      string      `json:"provider,omitempty"`
}

// ProviderResult is produced once per adapter invocation and never mutated
// afterwards; the aggregator owns it for the duration of one pass.
type ProviderResult struct {
	ProviderID string        `json:"providerId"`
	Items      []CatalogItem `json:"items,omitempty"`
	Success    bool          `json:"success"`
	LatencyMS  int64         `json:"latencyMs"`
	Err        string        `json:"error,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	MaxResults int `json:"maxResults"`
	TotalPages int `json:"totalPages"`
}

// AggregatedResult is created once per orchestration pass and is read-only
// after creation; it is what gets cached.
type AggregatedResult struct {
	Items                 []CatalogItem `json:"items"`
	TotalItems            int           `json:"totalItems"`
	PrimaryProvider       string        `json:"primaryProvider"`
	ContributingProviders []string      `json:"contributingProviders"`
	FailedProviders       []string      `json:"failedProviders,omitempty"`
	QualityScore          float64       `json:"qualityScore"`
	Pagination            Pagination    `json:"pagination"`
}

type ProviderInfo struct {
	Name     string          `json:"name"`
	Label    string          `json:"label"`
	Kind     string          `json:"kind"`
	Contexts []SearchContext `json:"contexts,omitempty"`
	Enabled  bool            `json:"enabled"`
}

type ProviderDiagnostics struct {
	Name                string `json:"name"`
	Label               string `json:"label"`
	Kind                string `json:"kind"`
	Enabled             bool   `json:"enabled"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	BlockedUntilUnix    int64  `json:"blockedUntilUnix,omitempty"`
	LastError           string `json:"lastError,omitempty"`
	LastQuery           string `json:"lastQuery,omitempty"`
	LastLatencyMS       int64  `json:"lastLatencyMs,omitempty"`
	TotalRequests       int64  `json:"totalRequests,omitempty"`
	TotalFailures       int64  `json:"totalFailures,omitempty"`
	TimeoutCount        int64  `json:"timeoutCount,omitempty"`
}
