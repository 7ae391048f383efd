package search

import (
	"testing"

	"bookshelf/catalogservice/internal/domain"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  The  Martian ", "the martian"},
		{"DUNE", "dune"},
		{"Straße", "strasse"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"The Martian", "The Martian", 1.0},
		{"The Martian", "Martian, The", 1.0},
		{"The Martian", "The Martian Chronicles", 2.0 / 3.0},
		{"Dune", "Neuromancer", 0},
		{"", "Dune", 0},
	}
	for _, tc := range cases {
		got := titleSimilarity(tc.a, tc.b)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("titleSimilarity(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAuthorsOverlap(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want bool
	}{
		{"exact", []string{"Andy Weir"}, []string{"Andy Weir"}, true},
		{"reordered", []string{"Weir, Andy"}, []string{"Andy Weir"}, true},
		{"surname only", []string{"Tolkien"}, []string{"J. R. R. Tolkien"}, true},
		{"different people", []string{"Andy Weir"}, []string{"Frank Herbert"}, false},
		{"one empty", []string{"Andy Weir"}, nil, false},
		{"partial given name clash", []string{"Andy Weir"}, []string{"Andy Serkis"}, false},
	}
	for _, tc := range cases {
		if got := authorsOverlap(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: authorsOverlap(%v, %v) = %v, want %v", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCandidateDuplicates(t *testing.T) {
	base := domain.CatalogItem{
		Title:       "The Martian",
		Authors:     []string{"Andy Weir"},
		Identifiers: domain.Identifiers{ISBN13: "9780553418026"},
	}

	t.Run("shared identifier wins regardless of title", func(t *testing.T) {
		other := domain.CatalogItem{
			Title:       "Der Marsianer",
			Identifiers: domain.Identifiers{ISBN13: "9780553418026"},
		}
		if !candidateDuplicates(base, other) {
			t.Fatal("shared ISBN-13 must mark a duplicate")
		}
	})

	t.Run("similar title requires author agreement", func(t *testing.T) {
		other := domain.CatalogItem{Title: "The Martian", Authors: []string{"Someone Else"}}
		if candidateDuplicates(base, other) {
			t.Fatal("same title with different authors is not a duplicate")
		}
		other.Authors = []string{"Weir"}
		if !candidateDuplicates(base, other) {
			t.Fatal("same title with overlapping author must be a duplicate")
		}
	})

	t.Run("dissimilar titles never match without identifiers", func(t *testing.T) {
		other := domain.CatalogItem{Title: "Project Hail Mary", Authors: []string{"Andy Weir"}}
		if candidateDuplicates(base, other) {
			t.Fatal("different works by the same author must stay separate")
		}
	})
}

func TestItemCompleteness(t *testing.T) {
	empty := domain.CatalogItem{Title: "Dune"}
	if got := itemCompleteness(empty); got != 0 {
		t.Fatalf("bare item completeness = %f, want 0", got)
	}

	full := domain.CatalogItem{
		Title:         "Dune",
		Authors:       []string{"Frank Herbert"},
		PublishedDate: "1965",
		Description:   "Desert planet epic.",
		Identifiers:   domain.Identifiers{ISBN13: "9780441172719"},
		CoverURL:      "https://covers.example.org/dune.jpg",
	}
	if got := itemCompleteness(full); got != 1 {
		t.Fatalf("full item completeness = %f, want 1", got)
	}
}

func TestMergeMissingFieldsNeverOverwrites(t *testing.T) {
	kept := domain.CatalogItem{
		Title:       "Dune",
		Authors:     []string{"Frank Herbert"},
		Identifiers: domain.Identifiers{ISBN13: "9780441172719"},
	}
	mergeMissingFields(&kept, domain.CatalogItem{
		Authors:       []string{"F. Herbert"},
		PublishedDate: "1965",
		Identifiers:   domain.Identifiers{ISBN10: "0441172717", ISBN13: "0000000000000"},
		CoverURL:      "https://covers.example.org/dune.jpg",
	})

	if kept.Identifiers.ISBN13 != "9780441172719" {
		t.Fatalf("existing ISBN-13 overwritten: %q", kept.Identifiers.ISBN13)
	}
	if kept.Identifiers.ISBN10 != "0441172717" {
		t.Fatalf("missing ISBN-10 not attributed: %q", kept.Identifiers.ISBN10)
	}
	if len(kept.Authors) != 1 || kept.Authors[0] != "Frank Herbert" {
		t.Fatalf("existing authors overwritten: %v", kept.Authors)
	}
	if kept.PublishedDate != "1965" {
		t.Fatalf("missing published date not filled: %q", kept.PublishedDate)
	}
	if kept.CoverURL == "" {
		t.Fatal("missing cover not filled")
	}
}
