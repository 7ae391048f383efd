package googlebooks

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
	defaultEndpoint  = "https://www.googleapis.com/books/v1/volumes"
	defaultUserAgent = "bookshelf-catalog/1.0"
)

type Config struct {
	Endpoint  string
	APIKey    string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
}

type volumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string     `json:"id"`
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type volumeInfo struct {
	Title               string               `json:"title"`
	Authors             []string             `json:"authors"`
	Publisher           string               `json:"publisher"`
	PublishedDate       string               `json:"publishedDate"`
	Description         string               `json:"description"`
	PageCount           int                  `json:"pageCount"`
	Categories          []string             `json:"categories"`
	IndustryIdentifiers []industryIdentifier `json:"industryIdentifiers"`
	ImageLinks          imageLinks           `json:"imageLinks"`
}

type industryIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type imageLinks struct {
	Thumbnail      string `json:"thumbnail"`
	SmallThumbnail string `json:"smallThumbnail"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
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
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return "googlebooks"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "Google Books",
		Kind:     "catalog",
		Contexts: []domain.SearchContext{domain.ContextTitle, domain.ContextAuthor, domain.ContextSubject, domain.ContextISBN},
		Enabled:  true,
	}
}

func (p *Provider) Search(ctx context.Context, query domain.SearchQuery) ([]domain.CatalogItem, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	values := uri.Query()
	values.Set("q", buildQueryTerm(query))
	values.Set("maxResults", strconv.Itoa(query.MaxResults))
	if query.Page > 1 {
		values.Set("startIndex", strconv.Itoa((query.Page-1)*query.MaxResults))
	}
	if p.apiKey != "" {
		values.Set("key", p.apiKey)
	}
	uri.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
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

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}

	var parsed volumesResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected provider payload: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(parsed.Items))
	for _, v := range parsed.Items {
		item, ok := p.toItem(v)
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

// buildQueryTerm maps the search context onto Google Books query operators.
func buildQueryTerm(query domain.SearchQuery) string {
	text := strings.TrimSpace(query.Text)
	switch query.Context {
	case domain.ContextISBN:
		if isbn := common.NormalizeISBN(text); isbn != "" {
			return "isbn:" + isbn
		}
		return "isbn:" + text
	case domain.ContextAuthor:
		return "inauthor:" + quoteWhenSpaced(text)
	case domain.ContextSubject:
		return "subject:" + quoteWhenSpaced(text)
	default:
		return "intitle:" + quoteWhenSpaced(text)
	}
}

func quoteWhenSpaced(text string) string {
	if strings.ContainsAny(text, " \t") {
		return `"` + text + `"`
	}
	return text
}

func (p *Provider) toItem(v volume) (domain.CatalogItem, bool) {
	title := strings.TrimSpace(v.VolumeInfo.Title)
	if title == "" {
		return domain.CatalogItem{}, false
	}

	ids := domain.Identifiers{ProviderNativeID: strings.TrimSpace(v.ID)}
	for _, identifier := range v.VolumeInfo.IndustryIdentifiers {
		value := common.NormalizeISBN(identifier.Identifier)
		if value == "" {
			continue
		}
		switch identifier.Type {
		case "ISBN_10":
			ids.ISBN10 = value
		case "ISBN_13":
			ids.ISBN13 = value
		}
	}
	if ids.ISBN13 == "" && ids.ISBN10 != "" {
		ids.ISBN13 = common.ISBN10To13(ids.ISBN10)
	}

	cover := strings.TrimSpace(v.VolumeInfo.ImageLinks.Thumbnail)
	if cover == "" {
		cover = strings.TrimSpace(v.VolumeInfo.ImageLinks.SmallThumbnail)
	}
	// Google serves thumbnails over http by default; normalize to https.
	cover = strings.Replace(cover, "http://", "https://", 1)

	return domain.CatalogItem{
		Title:         title,
		Authors:       trimAll(v.VolumeInfo.Authors),
		Identifiers:   ids,
		Publisher:     strings.TrimSpace(v.VolumeInfo.Publisher),
		PublishedDate: strings.TrimSpace(v.VolumeInfo.PublishedDate),
		Description:   strings.TrimSpace(v.VolumeInfo.Description),
		PageCount:     v.VolumeInfo.PageCount,
		Categories:    trimAll(v.VolumeInfo.Categories),
		CoverURL:      cover,
		Provider:      p.Name(),
	}, true
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
