package isbndb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/providers/common"
)

const (
	defaultEndpoint    = "https://api2.isbndb.com"
	defaultUserAgent   = "bookshelf-catalog/1.0"
	defaultMinInterval = time.Second
)

// ErrRateLimited is returned when the provider's minimum inter-call
// interval cannot be honored within the caller's deadline. The call fails
// fast instead of queueing past the timeout budget.
var ErrRateLimited = errors.New("isbndb: rate limited")

type Config struct {
	Endpoint    string
	APIKey      string
	UserAgent   string
	MinInterval time.Duration
	Client      *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
	limiter   *rate.Limiter
}

type booksResponse struct {
	Total int        `json:"total"`
	Books []bookItem `json:"books"`
}

type bookResponse struct {
	Book bookItem `json:"book"`
}

type bookItem struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	ISBN          string   `json:"isbn"`
	ISBN13        string   `json:"isbn13"`
	Publisher     string   `json:"publisher"`
	DatePublished string   `json:"date_published"`
	Pages         int      `json:"pages"`
	Image         string   `json:"image"`
	Synopsis      string   `json:"synopsis"`
	Subjects      []string `json:"subjects"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = defaultMinInterval
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: userAgent,
		// Token bucket of size 1, refilled once per interval.
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (p *Provider) Name() string {
	return "isbndb"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "ISBNdb",
		Kind:     "catalog",
		Contexts: []domain.SearchContext{domain.ContextTitle, domain.ContextISBN},
		Enabled:  p.apiKey != "",
	}
}

func (p *Provider) Search(ctx context.Context, query domain.SearchQuery) ([]domain.CatalogItem, error) {
	if p.apiKey == "" {
		return nil, errors.New("isbndb: api key not configured")
	}
	if err := p.acquireToken(ctx); err != nil {
		return nil, err
	}

	if query.Context == domain.ContextISBN {
		return p.searchByISBN(ctx, query.Text)
	}
	return p.searchByText(ctx, query)
}

// acquireToken takes one token from the bucket, failing fast when the wait
// would outlive the caller's deadline.
func (p *Provider) acquireToken(ctx context.Context) error {
	reservation := p.limiter.Reserve()
	if !reservation.OK() {
		return ErrRateLimited
	}
	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
		reservation.Cancel()
		return ErrRateLimited
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

func (p *Provider) searchByISBN(ctx context.Context, raw string) ([]domain.CatalogItem, error) {
	isbn := common.NormalizeISBN(raw)
	if isbn == "" {
		return nil, fmt.Errorf("isbndb: invalid isbn %q", raw)
	}
	payload, err := p.get(ctx, p.endpoint+"/book/"+url.PathEscape(isbn))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var parsed bookResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected provider payload: %w", err)
	}
	item, ok := p.toItem(parsed.Book)
	if !ok {
		return nil, nil
	}
	return []domain.CatalogItem{item}, nil
}

func (p *Provider) searchByText(ctx context.Context, query domain.SearchQuery) ([]domain.CatalogItem, error) {
	uri, err := url.Parse(p.endpoint + "/books/" + url.PathEscape(strings.TrimSpace(query.Text)))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	values := uri.Query()
	values.Set("page", strconv.Itoa(query.Page))
	values.Set("pageSize", strconv.Itoa(query.MaxResults))
	uri.RawQuery = values.Encode()

	payload, err := p.get(ctx, uri.String())
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var parsed booksResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected provider payload: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(parsed.Books))
	for _, book := range parsed.Books {
		item, ok := p.toItem(book)
		if !ok {
			continue
		}
		items = append(items, item)
		if len(items) >= query.MaxResults {
			break
		}
	}
	return items, nil
}

func (p *Provider) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("provider HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
}

func (p *Provider) toItem(book bookItem) (domain.CatalogItem, bool) {
	title := strings.TrimSpace(book.Title)
	if title == "" {
		return domain.CatalogItem{}, false
	}

	ids := domain.Identifiers{
		ISBN10: common.NormalizeISBN(book.ISBN),
		ISBN13: common.NormalizeISBN(book.ISBN13),
	}
	if ids.ISBN13 == "" && ids.ISBN10 != "" {
		ids.ISBN13 = common.ISBN10To13(ids.ISBN10)
	}
	ids.ProviderNativeID = ids.ISBN13

	authors := make([]string, 0, len(book.Authors))
	for _, author := range book.Authors {
		if trimmed := strings.TrimSpace(author); trimmed != "" {
			authors = append(authors, trimmed)
		}
	}

	return domain.CatalogItem{
		Title:         title,
		Authors:       authors,
		Identifiers:   ids,
		Publisher:     strings.TrimSpace(book.Publisher),
		PublishedDate: strings.TrimSpace(book.DatePublished),
		Description:   strings.TrimSpace(book.Synopsis),
		PageCount:     book.Pages,
		Categories:    book.Subjects,
		CoverURL:      strings.TrimSpace(book.Image),
		Provider:      p.Name(),
	}, true
}
