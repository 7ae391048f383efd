package openlibrary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookshelf/catalogservice/internal/domain"
)

func TestSearchByAuthor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("author"); got != "andy weir" {
			t.Errorf("unexpected author parameter: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"numFound": 2,
			"docs": [
				{
					"key": "/works/OL17091839W",
					"title": "The Martian",
					"author_name": ["Andy Weir"],
					"isbn": ["9780553418026", "0553418025"],
					"publisher": ["Crown"],
					"first_publish_year": 2014,
					"cover_i": 12345,
					"number_of_pages_median": 384
				},
				{
					"key": "/works/OL20164344W",
					"title": "Project Hail Mary",
					"author_name": ["Andy Weir"],
					"first_publish_year": 2021
				}
			]
		}`))
	}))
	defer server.Close()

	provider := NewProvider(Config{Endpoint: server.URL})
	items, err := provider.Search(context.Background(), domain.SearchQuery{
		Context:    domain.ContextAuthor,
		Text:       "andy weir",
		MaxResults: 10,
		Page:       1,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("unexpected items count: %d", len(items))
	}
	first := items[0]
	if first.Identifiers.ISBN13 != "9780553418026" {
		t.Fatalf("unexpected isbn13: %q", first.Identifiers.ISBN13)
	}
	if first.Identifiers.ProviderNativeID != "/works/OL17091839W" {
		t.Fatalf("unexpected native id: %q", first.Identifiers.ProviderNativeID)
	}
	if first.CoverURL == "" {
		t.Fatal("expected cover url from cover_i")
	}
	if first.PublishedDate != "2014" {
		t.Fatalf("unexpected published date: %q", first.PublishedDate)
	}
}

func TestEditions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/OL17091839W/editions.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"entries": [
				{
					"key": "/books/OL26617826M",
					"title": "The Martian",
					"publishers": ["Broadway Books"],
					"publish_date": "2014",
					"isbn_10": ["0553418025"],
					"isbn_13": ["9780553418026"],
					"number_of_pages": 387,
					"covers": [9138661]
				}
			]
		}`))
	}))
	defer server.Close()

	provider := NewProvider(Config{Endpoint: server.URL})
	items, err := provider.Editions(context.Background(), "/works/OL17091839W", 5)
	if err != nil {
		t.Fatalf("editions error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("unexpected items count: %d", len(items))
	}
	if items[0].Identifiers.ISBN13 != "9780553418026" {
		t.Fatalf("unexpected isbn13: %q", items[0].Identifiers.ISBN13)
	}
	if items[0].Publisher != "Broadway Books" {
		t.Fatalf("unexpected publisher: %q", items[0].Publisher)
	}
}

func TestEditionsRejectsInvalidKey(t *testing.T) {
	provider := NewProvider(Config{})
	if _, err := provider.Editions(context.Background(), "OL17091839W", 5); err == nil {
		t.Fatal("expected error for key without /works/ prefix")
	}
}
