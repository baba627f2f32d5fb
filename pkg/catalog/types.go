// Package catalog is the thin client for the remote media catalog: paginated
// browsing and paginated free-text search.
package catalog

import "context"

// Item is one catalog record. Items are never mutated client-side.
type Item struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Category      string  `json:"type"`
	PublishedDate string  `json:"launch_date"`
	MediaURL      *string `json:"image_url"`
	Status        string  `json:"status"`
}

// Page is one page of browse results.
type Page struct {
	Items      []Item
	HasMore    bool
	TotalItems int
}

// SearchOptions carries hints forwarded to the catalog.
type SearchOptions struct {
	// CreateHistory tells the server this is the first page of a new search.
	// The client-side history ledger is written independently of this hint.
	CreateHistory bool
}

// SearchResult is one page of search results.
type SearchResult struct {
	Query            string
	Items            []Item
	HasMore          bool
	TotalItems       int
	ConfidenceScores map[int]float64
	Timestamp        int64
}

// Catalog is the contract the explorer engine depends on.
type Catalog interface {
	Browse(ctx context.Context, page, pageSize int) (Page, error)
	Search(ctx context.Context, query string, page, pageSize int, opts SearchOptions) (SearchResult, error)
}

// CloneItems returns a copy of items that shares no backing array.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// CloneScores copies a confidence score map.
func CloneScores(scores map[int]float64) map[int]float64 {
	if scores == nil {
		return nil
	}
	out := make(map[int]float64, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}
