// Package stream implements the paginated fetch state machine shared by
// catalog browsing and free-text search.
//
// A stream allows one outstanding fetch at a time. Every request carries the
// generation it was issued under; a response whose generation is no longer
// current is dropped without touching state.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sw33tLie/spacescope/internal/metrics"
	"github.com/sw33tLie/spacescope/pkg/catalog"
)

// State is a snapshot of a stream.
type State struct {
	Kind       Kind
	Phase      Phase
	Query      string
	Items      []catalog.Item
	Page       int
	HasMore    bool
	TotalItems int
	Scores     map[int]float64
	Timestamp  int64
	Err        error
}

// Loading reports whether a fetch is outstanding.
func (s State) Loading() bool { return s.Phase == Loading || s.Phase == LoadingMore }

// Outcome describes what an operation did.
type Outcome struct {
	Op Op
	// Started is false when the operation was a no-op.
	Started bool
	// Applied is true when the response (or failure) updated the state.
	Applied bool
	// Stale is true when a newer request superseded this one.
	Stale bool
	// Deactivated is set by an empty search.
	Deactivated bool
	// Committable is set by a successful first-page search.
	Committable bool
	Result      catalog.SearchResult
	Err         error
}

// Stream is the parametrized state machine behind Browser and Searcher.
type Stream struct {
	kind     Kind
	cat      catalog.Catalog
	pageSize int
	blocked  func() bool

	mu     sync.Mutex
	state  State
	loaded bool
	// loadedQuery is the query the current items belong to.
	loadedQuery string
	gen         uint64
	cancel      context.CancelFunc
	inflight    Op
}

// Options configures a stream.
type Options struct {
	PageSize int
	// Blocked closes the gate on LoadMore and LoadMoreResults while it
	// returns true. Do ignores it.
	Blocked func() bool
}

func newStream(kind Kind, cat catalog.Catalog, opts Options) *Stream {
	if opts.PageSize <= 0 {
		opts.PageSize = catalog.DefaultPageSize
	}
	if opts.Blocked == nil {
		opts.Blocked = func() bool { return false }
	}
	return &Stream{
		kind:     kind,
		cat:      cat,
		pageSize: opts.PageSize,
		blocked:  opts.Blocked,
		state:    State{Kind: kind},
	}
}

func (s *Stream) Kind() Kind { return s.kind }

// State returns a copy of the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Items = catalog.CloneItems(st.Items)
	st.Scores = catalog.CloneScores(st.Scores)
	return st
}

// Loading reports whether a fetch is outstanding.
func (s *Stream) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Loading()
}

// Loaded reports whether at least one first page has been applied since the
// last reset.
func (s *Stream) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Reset cancels any in-flight request and returns to idle. The query of a
// search stream is kept.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	s.state = State{Kind: s.kind, Query: s.state.Query}
	s.loaded = false
	s.loadedQuery = ""
}

// Do runs op to completion, blocking until the fetch returns. It does not
// consult the gate; callers that re-invoke a failed operation use it
// directly.
func (s *Stream) Do(ctx context.Context, op Op) Outcome {
	out := Outcome{Op: op}
	if op.Kind() != s.kind {
		out.Err = errors.New("operation " + op.String() + " sent to " + s.kind.String() + " stream")
		return out
	}

	if q, ok := op.(Search); ok && strings.TrimSpace(q.Query) == "" {
		s.mu.Lock()
		s.supersedeLocked()
		s.state = State{Kind: s.kind}
		s.loaded = false
		s.loadedQuery = ""
		s.mu.Unlock()
		out.Deactivated = true
		return out
	}

	op, reqCtx, gen, ok := s.begin(ctx, op)
	out.Op = op
	if !ok {
		return out
	}
	out.Started = true

	res, err := s.fetch(reqCtx, op)
	return s.finish(op, gen, res, err, out)
}

// begin validates op against the current phase and, when it may run, moves
// the stream into a loading phase under a new generation.
func (s *Stream) begin(ctx context.Context, op Op) (Op, context.Context, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.state

	switch o := op.(type) {
	case Load:
		if st.Loading() {
			return op, nil, 0, false
		}
		st.Phase = Loading

	case LoadMore:
		if !s.canLoadMoreLocked() {
			return op, nil, 0, false
		}
		if o.Page == 0 {
			o.Page = st.Page + 1
		}
		if o.Page != st.Page+1 {
			return o, nil, 0, false
		}
		op = o
		st.Phase = LoadingMore

	case Search:
		q := strings.TrimSpace(o.Query)
		o.Query = q
		op = o
		if cur, ok := s.inflight.(Search); ok && st.Phase == Loading && cur.Query == q {
			return op, nil, 0, false
		}
		if s.loadedQuery != q {
			st.Items = nil
			st.Page = 0
			st.HasMore = false
			st.TotalItems = 0
			st.Scores = nil
			s.loaded = false
		}
		if strings.TrimSpace(st.Query) != q {
			st.Query = q
		}
		st.Phase = Loading

	case SearchLoadMore:
		o.Query = strings.TrimSpace(o.Query)
		op = o
		if o.Query != strings.TrimSpace(st.Query) || o.Query != s.loadedQuery || !s.canLoadMoreLocked() {
			return op, nil, 0, false
		}
		if o.Page == 0 {
			o.Page = st.Page + 1
		}
		if o.Page != st.Page+1 {
			return o, nil, 0, false
		}
		op = o
		st.Phase = LoadingMore
	}

	s.supersedeLocked()
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.inflight = op
	return op, reqCtx, s.gen, true
}

func (s *Stream) canLoadMoreLocked() bool {
	st := s.state
	if !s.loaded || st.Loading() || !st.HasMore {
		return false
	}
	return st.Phase == Ready || st.Phase == Failed
}

// supersedeLocked invalidates the in-flight request, if any.
func (s *Stream) supersedeLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inflight = nil
}

func (s *Stream) fetch(ctx context.Context, op Op) (catalog.SearchResult, error) {
	switch o := op.(type) {
	case Load:
		p, err := s.cat.Browse(ctx, 1, s.pageSize)
		return browseResult(p), err
	case LoadMore:
		p, err := s.cat.Browse(ctx, o.Page, s.pageSize)
		return browseResult(p), err
	case Search:
		return s.cat.Search(ctx, o.Query, 1, s.pageSize, catalog.SearchOptions{CreateHistory: true})
	case SearchLoadMore:
		return s.cat.Search(ctx, o.Query, o.Page, s.pageSize, catalog.SearchOptions{CreateHistory: false})
	}
	return catalog.SearchResult{}, errors.New("unknown operation")
}

func browseResult(p catalog.Page) catalog.SearchResult {
	return catalog.SearchResult{Items: p.Items, HasMore: p.HasMore, TotalItems: p.TotalItems}
}

func (s *Stream) finish(op Op, gen uint64, res catalog.SearchResult, err error, out Outcome) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		metrics.StaleResponsesTotal.WithLabelValues(s.kind.String()).Inc()
		out.Stale = true
		return out
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inflight = nil
	out.Applied = true
	st := &s.state

	if err != nil {
		st.Phase = Failed
		st.Err = err
		out.Err = err
		return out
	}

	res.Items = catalog.CloneItems(res.Items)
	res.ConfidenceScores = catalog.CloneScores(res.ConfidenceScores)
	out.Result = res

	switch o := op.(type) {
	case Load, Search:
		st.Items = catalog.CloneItems(res.Items)
		st.Page = 1
		st.Scores = catalog.CloneScores(res.ConfidenceScores)
		s.loaded = true
		if q, ok := o.(Search); ok {
			s.loadedQuery = q.Query
			out.Committable = true
		}
	case LoadMore:
		st.Items = append(st.Items, res.Items...)
		st.Page = o.Page
	case SearchLoadMore:
		st.Items = append(st.Items, res.Items...)
		st.Page = o.Page
		if len(res.ConfidenceScores) > 0 {
			if st.Scores == nil {
				st.Scores = map[int]float64{}
			}
			for id, v := range res.ConfidenceScores {
				st.Scores[id] = v
			}
		}
	}
	st.HasMore = res.HasMore
	st.TotalItems = res.TotalItems
	st.Timestamp = res.Timestamp
	st.Phase = Ready
	st.Err = nil
	return out
}

// Browser is the catalog browsing stream.
type Browser struct {
	*Stream
}

func NewBrowse(cat catalog.Catalog, opts Options) *Browser {
	return &Browser{newStream(KindBrowse, cat, opts)}
}

// Load fetches page 1 and replaces the accumulated items.
func (b *Browser) Load(ctx context.Context) Outcome {
	return b.Do(ctx, Load{})
}

// LoadMore fetches the next page. It is a no-op while a fetch is outstanding,
// when there is nothing more, or while the gate is closed.
func (b *Browser) LoadMore(ctx context.Context) Outcome {
	if b.blocked() {
		return Outcome{Op: LoadMore{}}
	}
	return b.Do(ctx, LoadMore{})
}

// Searcher is the free-text search stream.
type Searcher struct {
	*Stream
}

func NewSearch(cat catalog.Catalog, opts Options) *Searcher {
	return &Searcher{newStream(KindSearch, cat, opts)}
}

// SetQuery records the query text without fetching. Changing the query
// (ignoring surrounding whitespace) supersedes any in-flight request.
func (s *Searcher) SetQuery(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.state.Query) != strings.TrimSpace(text)
	s.state.Query = text
	if changed && s.state.Loading() {
		s.supersedeLocked()
		switch {
		case !s.loaded:
			s.state.Phase = Idle
		case s.state.Err != nil:
			s.state.Phase = Failed
		default:
			s.state.Phase = Ready
		}
	}
}

// Query returns the current query with surrounding whitespace removed.
// Empty means the stream is inactive.
func (s *Searcher) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.state.Query)
}

// Search fetches page 1 for query. An empty query deactivates the stream.
func (s *Searcher) Search(ctx context.Context, query string) Outcome {
	return s.Do(ctx, Search{Query: query})
}

// LoadMoreResults fetches page of the still-current query. page 0 means the
// next page.
func (s *Searcher) LoadMoreResults(ctx context.Context, query string, page int) Outcome {
	op := SearchLoadMore{Query: query, Page: page}
	if s.blocked() {
		return Outcome{Op: op}
	}
	return s.Do(ctx, op)
}
