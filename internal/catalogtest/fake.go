// Package catalogtest provides an in-memory catalog for engine tests.
package catalogtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sw33tLie/spacescope/pkg/catalog"
)

// Call records one request made to the fake.
type Call struct {
	Op       string
	Query    string
	Page     int
	PageSize int
	History  bool
}

// Fake serves TotalItems generated items for browse, and Results[query]
// items for a search. Set Hold to make calls wait until Release.
type Fake struct {
	mu         sync.Mutex
	TotalItems int
	Results    map[string]int
	calls      []Call
	failures   int
	failErr    error
	hold       bool
	waiters    []chan struct{}
	// Entered receives every call as it starts, when non-nil.
	Entered chan Call
}

func New(totalItems int) *Fake {
	return &Fake{TotalItems: totalItems, Results: map[string]int{}}
}

// FailNext makes the next n calls fail with err.
func (f *Fake) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.failErr = err
}

// Hold makes subsequent calls block until Release (or their context ends).
func (f *Fake) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = true
}

// Release unblocks every waiting call and stops holding new ones.
func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = false
	for _, w := range f.waiters {
		close(w)
	}
	f.waiters = nil
}

// Calls returns the requests made so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CountCalls counts requests matching op (and query, when non-empty).
func (f *Fake) CountCalls(op, query string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op && (query == "" || c.Query == query) {
			n++
		}
	}
	return n
}

func (f *Fake) enter(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var wait chan struct{}
	if f.hold {
		wait = make(chan struct{})
		f.waiters = append(f.waiters, wait)
	}
	var err error
	if f.failures > 0 {
		f.failures--
		err = f.failErr
	}
	entered := f.Entered
	f.mu.Unlock()

	if entered != nil {
		entered <- c
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func item(id int, prefix string) catalog.Item {
	return catalog.Item{
		ID:            id,
		Name:          fmt.Sprintf("%s %d", prefix, id),
		Category:      "mission",
		PublishedDate: "1969-07-16",
		Status:        "Active",
	}
}

func window(total, page, pageSize int) (int, int) {
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return start, end
}

func (f *Fake) Browse(ctx context.Context, page, pageSize int) (catalog.Page, error) {
	if err := f.enter(ctx, Call{Op: "browse", Page: page, PageSize: pageSize}); err != nil {
		return catalog.Page{}, err
	}
	f.mu.Lock()
	total := f.TotalItems
	f.mu.Unlock()

	start, end := window(total, page, pageSize)
	var items []catalog.Item
	for i := start; i < end; i++ {
		items = append(items, item(i+1, "item"))
	}
	return catalog.Page{Items: items, HasMore: end < total, TotalItems: total}, nil
}

func (f *Fake) Search(ctx context.Context, query string, page, pageSize int, opts catalog.SearchOptions) (catalog.SearchResult, error) {
	if err := f.enter(ctx, Call{Op: "search", Query: query, Page: page, PageSize: pageSize, History: opts.CreateHistory}); err != nil {
		return catalog.SearchResult{}, err
	}
	f.mu.Lock()
	total := f.Results[strings.ToLower(query)]
	f.mu.Unlock()

	start, end := window(total, page, pageSize)
	res := catalog.SearchResult{
		Query:            query,
		HasMore:          end < total,
		TotalItems:       total,
		ConfidenceScores: map[int]float64{},
		Timestamp:        1700000000000,
	}
	for i := start; i < end; i++ {
		res.Items = append(res.Items, item(i+1, query))
		res.ConfidenceScores[i+1] = 1
	}
	return res, nil
}
