// Package explorer coordinates the browse stream, the search stream, the
// retry controller and the history ledger behind one UI-facing object.
package explorer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sw33tLie/spacescope/internal/clock"
	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/history"
	"github.com/sw33tLie/spacescope/pkg/retry"
	"github.com/sw33tLie/spacescope/pkg/stream"
)

const DefaultDebounce = 500 * time.Millisecond

// Logger abstracts logging so callers can use logrus or any other logger
// that satisfies this interface.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Mode says which stream is displayed.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeSearch
)

func (m Mode) String() string {
	if m == ModeSearch {
		return "search"
	}
	return "browse"
}

// View is what a UI renders.
type View struct {
	Mode Mode
	// Typed is the raw query text as the user entered it.
	Typed  string
	Stream stream.State
	Retry  retry.State
	// HistoryError is the last failed history write, cleared by the next
	// successful one.
	HistoryError error
	// ShowNoResults is true for a completed search that found nothing.
	ShowNoResults bool
}

type Config struct {
	Catalog catalog.Catalog
	// History receives one entry per completed search. Nil disables it.
	History  history.Store
	PageSize int
	// Debounce is the quiet period after typing before a search runs.
	Debounce         time.Duration
	RetryCountdown   int
	RetryMaxAttempts int
	// Query restores a search on Start instead of browsing.
	Query string

	Clock clock.Clock
	Log   Logger
	NewID func() string

	// OnChange receives a fresh View after every state change. It may be
	// called from several goroutines.
	OnChange func(View)
	// OnCommit is called after each history append attempt.
	OnCommit func(history.Entry, error)
}

type Explorer struct {
	cfg    Config
	log    Logger
	browse *stream.Browser
	search *stream.Searcher
	retry  *retry.Controller
	tasks  tracker

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	typed       string
	debounce    clock.Timer
	debounceSeq uint64
	historyErr  error
	closed      bool
}

func New(cfg Config) (*Explorer, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("explorer: a catalog is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Log == nil {
		cfg.Log = nopLogger{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	e := &Explorer{cfg: cfg, log: cfg.Log, typed: cfg.Query}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	opts := stream.Options{
		PageSize: cfg.PageSize,
		Blocked:  func() bool { return e.retry.Active() },
	}
	e.browse = stream.NewBrowse(cfg.Catalog, opts)
	e.search = stream.NewSearch(cfg.Catalog, opts)
	e.search.SetQuery(cfg.Query)
	e.retry = retry.New(e.execRetry, retry.Config{
		Countdown:   cfg.RetryCountdown,
		MaxAttempts: cfg.RetryMaxAttempts,
		Clock:       cfg.Clock,
		Log:         cfg.Log,
		OnChange:    func(retry.State) { e.notify() },
	})
	return e, nil
}

// Start runs the initial load: the restored search when a query is set,
// otherwise the first browse page.
func (e *Explorer) Start() {
	if q := e.search.Query(); q != "" {
		e.runSearch(q)
		return
	}
	e.spawn(func(ctx context.Context) {
		e.handle(e.browse.Load(ctx), true)
	})
}

// Type records a keystroke. The displayed query updates at once; the search
// runs after the debounce quiet period.
func (e *Explorer) Type(text string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.typed = text
	e.stopDebounceLocked()
	e.debounceSeq++
	seq := e.debounceSeq
	e.tasks.add()
	e.debounce = e.cfg.Clock.AfterFunc(e.cfg.Debounce, func() { e.fireDebounce(seq) })
	e.mu.Unlock()

	e.search.SetQuery(text)
	e.notify()
}

// Submit searches for text immediately, skipping the debounce.
func (e *Explorer) Submit(text string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.typed = text
	e.stopDebounceLocked()
	e.debounceSeq++
	e.mu.Unlock()

	e.search.SetQuery(text)
	e.runSearch(text)
}

// stopDebounceLocked disarms a pending debounce timer. A timer that already
// fired releases its own task.
func (e *Explorer) stopDebounceLocked() {
	if e.debounce != nil && e.debounce.Stop() {
		e.tasks.done()
	}
	e.debounce = nil
}

func (e *Explorer) fireDebounce(seq uint64) {
	defer e.tasks.done()

	e.mu.Lock()
	if seq != e.debounceSeq || e.closed {
		e.mu.Unlock()
		return
	}
	e.debounce = nil
	text := e.typed
	e.mu.Unlock()

	e.runSearch(text)
}

func (e *Explorer) runSearch(text string) {
	q := strings.TrimSpace(text)
	// A new search owns the retry slot over any older search.
	e.retry.CancelIf(func(op stream.Op) bool { return op.Kind() == stream.KindSearch })
	e.spawn(func(ctx context.Context) {
		e.handle(e.search.Search(ctx, q), true)
	})
}

// LoadMore routes an explicit "load more" to the displayed stream. It
// returns false when routing is suppressed because a fetch or a retry is
// outstanding.
func (e *Explorer) LoadMore() bool {
	if e.browse.Loading() || e.search.Loading() || e.retry.Active() {
		return false
	}
	if q := e.search.Query(); q != "" {
		e.spawn(func(ctx context.Context) {
			e.handle(e.search.LoadMoreResults(ctx, q, 0), true)
		})
		return true
	}
	e.spawn(func(ctx context.Context) {
		e.handle(e.browse.LoadMore(ctx), true)
	})
	return true
}

// ScrollNearBottom is the infinite-scroll trigger.
func (e *Explorer) ScrollNearBottom() bool { return e.LoadMore() }

// Reload cancels any retry and starts the displayed stream from page 1.
func (e *Explorer) Reload() {
	e.retry.Cancel()
	e.mu.Lock()
	e.historyErr = nil
	e.mu.Unlock()

	if q := e.search.Query(); q != "" {
		e.search.Reset()
		e.runSearch(q)
		return
	}
	e.browse.Reset()
	e.spawn(func(ctx context.Context) {
		e.handle(e.browse.Load(ctx), true)
	})
}

// Replay looks up a history entry and searches for its query again. The new
// search appends a new entry.
func (e *Explorer) Replay(ctx context.Context, id string) (history.Entry, error) {
	if e.cfg.History == nil {
		return history.Entry{}, errors.New("explorer: no history store configured")
	}
	entry, err := history.Lookup(ctx, e.cfg.History, id)
	if err != nil {
		return history.Entry{}, err
	}
	e.Submit(entry.Query)
	return entry, nil
}

func (e *Explorer) View() View {
	v := View{Mode: ModeBrowse, Retry: e.retry.State()}
	e.mu.Lock()
	v.Typed = e.typed
	v.HistoryError = e.historyErr
	e.mu.Unlock()

	if e.search.Query() != "" {
		v.Mode = ModeSearch
		v.Stream = e.search.State()
	} else {
		v.Stream = e.browse.State()
	}
	v.ShowNoResults = v.Mode == ModeSearch &&
		v.Stream.Phase == stream.Ready &&
		len(v.Stream.Items) == 0 &&
		v.Stream.Err == nil &&
		!v.Retry.Active
	return v
}

// Wait blocks until no fetch, retry attempt or debounce timer is pending.
// A retry that is only counting down does not count.
func (e *Explorer) Wait() {
	<-e.tasks.wait()
}

// WaitIdle is Wait that also waits for an active retry to resolve.
func (e *Explorer) WaitIdle(ctx context.Context) error {
	for {
		select {
		case <-e.tasks.wait():
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-e.retry.Idle():
		case <-ctx.Done():
			return ctx.Err()
		}
		if !e.tasks.busy() && !e.retry.Active() {
			return nil
		}
	}
}

// Close stops timers and cancels in-flight work. Pending fetches return
// shortly after with a cancellation that is not retried.
func (e *Explorer) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopDebounceLocked()
	e.mu.Unlock()

	e.retry.Close()
	e.cancel()
}

func (e *Explorer) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.tasks.add()
	e.mu.Unlock()

	go func() {
		defer e.tasks.done()
		fn(e.ctx)
		e.notify()
	}()
}

// execRetry is the retry controller's executor.
func (e *Explorer) execRetry(ctx context.Context, op stream.Op) error {
	switch o := op.(type) {
	case stream.Search:
		if o.Query != e.search.Query() {
			e.log.Debugf("dropping retry of %s: query changed", op)
			return nil
		}
	case stream.SearchLoadMore:
		if o.Query != e.search.Query() {
			e.log.Debugf("dropping retry of %s: query changed", op)
			return nil
		}
	}

	e.tasks.add()
	defer e.tasks.done()

	var out stream.Outcome
	if op.Kind() == stream.KindSearch {
		out = e.search.Do(ctx, op)
	} else {
		out = e.browse.Do(ctx, op)
	}
	e.handle(out, false)
	e.notify()
	if out.Applied && out.Err != nil && catalog.IsTransient(out.Err) {
		return out.Err
	}
	return nil
}

// handle reacts to a finished stream operation. scheduleRetry is false when
// the operation is itself a retry attempt.
func (e *Explorer) handle(out stream.Outcome, scheduleRetry bool) {
	switch {
	case out.Deactivated:
		e.log.Debugf("search cleared, back to browsing")
		e.retry.CancelIf(func(op stream.Op) bool { return op.Kind() == stream.KindSearch })
		e.spawn(func(ctx context.Context) {
			e.handle(e.browse.Load(ctx), true)
		})
		return
	case !out.Started:
		return
	case out.Stale:
		e.log.Debugf("dropped stale response for %s", out.Op)
		return
	}

	if out.Err != nil {
		if !catalog.IsTransient(out.Err) {
			e.log.Debugf("%s stopped: %v", out.Op, out.Err)
			return
		}
		e.log.Warnf("%s failed: %v", out.Op, out.Err)
		if scheduleRetry {
			e.retry.Schedule(out.Op)
		}
		return
	}

	if out.Committable {
		if op, ok := out.Op.(stream.Search); ok {
			e.commit(op.Query, out.Result)
		}
	}
}

// commit appends one history entry for a completed first-page search.
func (e *Explorer) commit(query string, res catalog.SearchResult) {
	if e.cfg.History == nil {
		return
	}
	// The entry records what the first page returned, not the catalog-wide
	// match count.
	count := len(res.Items)
	entry := history.Entry{
		ID:               e.cfg.NewID(),
		Query:            query,
		Timestamp:        e.cfg.Clock.Now().UnixMilli(),
		ResultCount:      count,
		Results:          catalog.CloneItems(res.Items),
		ConfidenceScores: catalog.CloneScores(res.ConfidenceScores),
	}

	err := e.cfg.History.Append(e.ctx, entry)
	var pe *history.PersistenceError
	switch {
	case err == nil:
		e.log.Debugf("saved %q to history (%d results)", query, count)
	case errors.As(err, &pe) && pe.Cached:
		e.log.Warnf("history backend unavailable, %q kept in the local cache: %v", query, err)
	default:
		e.log.Errorf("could not save %q to history: %v", query, err)
	}

	e.mu.Lock()
	e.historyErr = err
	e.mu.Unlock()

	if e.cfg.OnCommit != nil {
		e.cfg.OnCommit(entry, err)
	}
}

func (e *Explorer) notify() {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(e.View())
	}
}
