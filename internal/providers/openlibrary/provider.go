package openlibrary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/providers/common"
)

const (
	defaultEndpoint  = "https://openlibrary.org"
	defaultUserAgent = "bookshelf-catalog/1.0"
	coverBaseURL     = "https://covers.openlibrary.org/b/id/"
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

type searchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []searchDoc `json:"docs"`
}

type searchDoc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	ISBN             []string `json:"isbn"`
	Publisher        []string `json:"publisher"`
	FirstPublishYear int      `json:"first_publish_year"`
	CoverID          int64    `json:"cover_i"`
	Subject          []string `json:"subject"`
	PagesMedian      int      `json:"number_of_pages_median"`
}

type editionsResponse struct {
	Entries []editionEntry `json:"entries"`
}

type editionEntry struct {
	Key           string   `json:"key"`
	Title         string   `json:"title"`
	Publishers    []string `json:"publishers"`
	PublishDate   string   `json:"publish_date"`
	ISBN10        []string `json:"isbn_10"`
	ISBN13        []string `json:"isbn_13"`
	NumberOfPages int      `json:"number_of_pages"`
	Covers        []int64  `json:"covers"`
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
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return "openlibrary"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "Open Library",
		Kind:     "catalog",
		Contexts: []domain.SearchContext{domain.ContextTitle, domain.ContextAuthor, domain.ContextSubject, domain.ContextISBN},
		Enabled:  true,
	}
}

func (p *Provider) Search(ctx context.Context, query domain.SearchQuery) ([]domain.CatalogItem, error) {
	uri, err := url.Parse(p.endpoint + "/search.json")
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	values := uri.Query()
	text := strings.TrimSpace(query.Text)
	switch query.Context {
	case domain.ContextAuthor:
		values.Set("author", text)
	case domain.ContextSubject:
		values.Set("subject", text)
	case domain.ContextISBN:
		isbn := common.NormalizeISBN(text)
		if isbn == "" {
			isbn = text
		}
		values.Set("isbn", isbn)
	default:
		values.Set("title", text)
	}
	values.Set("limit", strconv.Itoa(query.MaxResults))
	if query.Page > 1 {
		values.Set("offset", strconv.Itoa((query.Page-1)*query.MaxResults))
	}
	values.Set("fields", "key,title,author_name,isbn,publisher,first_publish_year,cover_i,subject,number_of_pages_median")
	uri.RawQuery = values.Encode()

	payload, err := p.get(ctx, uri.String())
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected provider payload: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(parsed.Docs))
	for _, doc := range parsed.Docs {
		item, ok := p.toItem(doc)
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

// Editions fetches edition records for an Open Library work id
// (e.g. "/works/OL17091839W"). Used by the author-topology enhancement pass.
func (p *Provider) Editions(ctx context.Context, workKey string, limit int) ([]domain.CatalogItem, error) {
	key := strings.TrimSpace(workKey)
	if key == "" || !strings.HasPrefix(key, "/works/") {
		return nil, fmt.Errorf("invalid work key %q", workKey)
	}
	if limit <= 0 {
		limit = 5
	}

	uri, err := url.Parse(p.endpoint + key + "/editions.json")
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	values := uri.Query()
	values.Set("limit", strconv.Itoa(limit))
	uri.RawQuery = values.Encode()

	payload, err := p.get(ctx, uri.String())
	if err != nil {
		return nil, err
	}

	var parsed editionsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected provider payload: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}
		ids := domain.Identifiers{ProviderNativeID: strings.TrimSpace(entry.Key)}
		if len(entry.ISBN10) > 0 {
			ids.ISBN10 = common.NormalizeISBN(entry.ISBN10[0])
		}
		if len(entry.ISBN13) > 0 {
			ids.ISBN13 = common.NormalizeISBN(entry.ISBN13[0])
		}
		if ids.ISBN13 == "" && ids.ISBN10 != "" {
			ids.ISBN13 = common.ISBN10To13(ids.ISBN10)
		}
		item := domain.CatalogItem{
			Title:         title,
			Identifiers:   ids,
			PublishedDate: strings.TrimSpace(entry.PublishDate),
			PageCount:     entry.NumberOfPages,
			Provider:      p.Name(),
		}
		if len(entry.Publishers) > 0 {
			item.Publisher = strings.TrimSpace(entry.Publishers[0])
		}
		if len(entry.Covers) > 0 && entry.Covers[0] > 0 {
			item.CoverURL = coverBaseURL + strconv.FormatInt(entry.Covers[0], 10) + "-M.jpg"
		}
		items = append(items, item)
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

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("provider HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
}

func (p *Provider) toItem(doc searchDoc) (domain.CatalogItem, bool) {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		return domain.CatalogItem{}, false
	}

	ids := domain.Identifiers{ProviderNativeID: strings.TrimSpace(doc.Key)}
	for _, raw := range doc.ISBN {
		value := common.NormalizeISBN(raw)
		switch len(value) {
		case 10:
			if ids.ISBN10 == "" {
				ids.ISBN10 = value
			}
		case 13:
			if ids.ISBN13 == "" {
				ids.ISBN13 = value
			}
		}
		if ids.ISBN10 != "" && ids.ISBN13 != "" {
			break
		}
	}
	if ids.ISBN13 == "" && ids.ISBN10 != "" {
		ids.ISBN13 = common.ISBN10To13(ids.ISBN10)
	}

	item := domain.CatalogItem{
		Title:       title,
		Authors:     trimAll(doc.AuthorName),
		Identifiers: ids,
		PageCount:   doc.PagesMedian,
		Provider:    p.Name(),
	}
	if len(doc.Publisher) > 0 {
		item.Publisher = strings.TrimSpace(doc.Publisher[0])
	}
	if doc.FirstPublishYear > 0 {
		item.PublishedDate = strconv.Itoa(doc.FirstPublishYear)
	}
	if doc.CoverID > 0 {
		item.CoverURL = coverBaseURL + strconv.FormatInt(doc.CoverID, 10) + "-M.jpg"
	}
	if len(doc.Subject) > 0 {
		limit := len(doc.Subject)
		if limit > 5 {
			limit = 5
		}
		item.Categories = trimAll(doc.Subject[:limit])
	}
	return item, true
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
