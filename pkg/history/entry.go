// Package history keeps the ledger of completed searches. Entries are
// immutable snapshots; repeating a search appends a new entry.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sw33tLie/spacescope/pkg/catalog"
)

const DefaultPageSize = 100

var (
	// ErrInvalidEntry is returned when an entry has no id or an empty query.
	ErrInvalidEntry = errors.New("history entry needs an id and a non-empty query")
	// ErrNotFound is returned by backends and Lookup for an unknown id.
	ErrNotFound = errors.New("history entry not found")
)

// Entry is one completed search.
type Entry struct {
	ID               string          `json:"id"`
	Query            string          `json:"query"`
	Timestamp        int64           `json:"timestamp"`
	ResultCount      int             `json:"resultCount"`
	Results          []catalog.Item  `json:"results"`
	ConfidenceScores map[int]float64 `json:"confidenceScores,omitempty"`
}

func (e Entry) validate() error {
	if e.ID == "" || e.Query == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	e.Results = catalog.CloneItems(e.Results)
	e.ConfidenceScores = catalog.CloneScores(e.ConfidenceScores)
	return e
}

// Page is one page of the ledger, most recent first.
type Page struct {
	Items       []Entry `json:"items"`
	Page        int     `json:"page"`
	PageSize    int     `json:"pageSize"`
	TotalItems  int     `json:"totalItems"`
	TotalPages  int     `json:"totalPages"`
	HasNext     bool    `json:"hasNext"`
	HasPrevious bool    `json:"hasPrevious"`

	// Fallback is set when the page was served from the local cache
	// because the durable backend failed.
	Fallback bool `json:"-"`
}

// Store is the contract the explorer and the CLI depend on.
type Store interface {
	Append(ctx context.Context, e Entry) error
	RemoveByID(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	LoadPage(ctx context.Context, page, pageSize int) (Page, error)
}

// PersistenceError reports a failed operation against the durable backend.
// Cached is true when the change was applied to the local cache instead.
type PersistenceError struct {
	Op     string
	Err    error
	Cached bool
}

func (e *PersistenceError) Error() string {
	if e.Cached {
		return fmt.Sprintf("history %s: %v (kept in local cache)", e.Op, e.Err)
	}
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// SortRecentFirst orders entries by descending timestamp. Ties keep their
// relative order reversed so the later append comes first.
func SortRecentFirst(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
}

// Paginate slices entries, given in append order, into one page.
func Paginate(entries []Entry, page, pageSize int) Page {
	page, pageSize = normalizePaging(page, pageSize)

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	SortRecentFirst(sorted)

	total := len(sorted)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	items := make([]Entry, 0, end-start)
	for _, e := range sorted[start:end] {
		items = append(items, e.Clone())
	}
	return Page{
		Items:       items,
		Page:        page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     end < total,
		HasPrevious: page > 1,
	}
}

// Lookup scans the store page by page for the entry with the given id.
func Lookup(ctx context.Context, s Store, id string) (Entry, error) {
	for page := 1; ; page++ {
		p, err := s.LoadPage(ctx, page, DefaultPageSize)
		if err != nil {
			return Entry{}, err
		}
		for _, e := range p.Items {
			if e.ID == id {
				return e, nil
			}
		}
		if !p.HasNext {
			return Entry{}, ErrNotFound
		}
	}
}
