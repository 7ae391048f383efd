package apihttp

import (
	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/search"
)

// The search endpoint speaks the Google Books volumes shape so existing
// clients keep working, with aggregation metadata layered on top.

type industryIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type imageLinks struct {
	Thumbnail string `json:"thumbnail,omitempty"`
}

type volumeInfo struct {
	Title               string               `json:"title"`
	Authors             []string             `json:"authors,omitempty"`
	Publisher           string               `json:"publisher,omitempty"`
	PublishedDate       string               `json:"publishedDate,omitempty"`
	Description         string               `json:"description,omitempty"`
	PageCount           int                  `json:"pageCount,omitempty"`
	Categories          []string             `json:"categories,omitempty"`
	ImageLinks          *imageLinks          `json:"imageLinks,omitempty"`
	IndustryIdentifiers []industryIdentifier `json:"industryIdentifiers,omitempty"`
}

type volume struct {
	Kind       string     `json:"kind"`
	ID         string     `json:"id,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type volumesResponse struct {
	Kind                  string            `json:"kind"`
	TotalItems            int               `json:"totalItems"`
	Items                 []volume          `json:"items"`
	Provider              string            `json:"provider"`
	ContributingProviders []string          `json:"contributingProviders,omitempty"`
	FailedProviders       []string          `json:"failedProviders,omitempty"`
	Cached                bool              `json:"cached"`
	ResponseTimeMS        int64             `json:"responseTimeMs"`
	SearchContext         string            `json:"searchContext"`
	Pagination            domain.Pagination `json:"pagination"`
}

func toVolume(item domain.CatalogItem) volume {
	info := volumeInfo{
		Title:         item.Title,
		Authors:       item.Authors,
		Publisher:     item.Publisher,
		PublishedDate: item.PublishedDate,
		Description:   item.Description,
		PageCount:     item.PageCount,
		Categories:    item.Categories,
	}
	if item.CoverURL != "" {
		info.ImageLinks = &imageLinks{Thumbnail: item.CoverURL}
	}
	if item.Identifiers.ISBN10 != "" {
		info.IndustryIdentifiers = append(info.IndustryIdentifiers, industryIdentifier{
			Type: "ISBN_10", Identifier: item.Identifiers.ISBN10,
		})
	}
	if item.Identifiers.ISBN13 != "" {
		info.IndustryIdentifiers = append(info.IndustryIdentifiers, industryIdentifier{
			Type: "ISBN_13", Identifier: item.Identifiers.ISBN13,
		})
	}
	return volume{
		Kind:       "books#volume",
		ID:         item.Identifiers.ProviderNativeID,
		Provider:   item.Provider,
		VolumeInfo: info,
	}
}

func toVolumesResponse(response search.Response) volumesResponse {
	items := make([]volume, 0, len(response.Result.Items))
	for _, item := range response.Result.Items {
		items = append(items, toVolume(item))
	}
	return volumesResponse{
		Kind:                  "books#volumes",
		TotalItems:            response.Result.TotalItems,
		Items:                 items,
		Provider:              response.Result.PrimaryProvider,
		ContributingProviders: response.Result.ContributingProviders,
		FailedProviders:       response.Result.FailedProviders,
		Cached:                response.Cached,
		ResponseTimeMS:        response.ResponseTimeMS,
		SearchContext:         string(response.Query.Context),
		Pagination:            response.Result.Pagination,
	}
}
