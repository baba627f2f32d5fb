package history

import (
	"context"
	"errors"

	"github.com/sw33tLie/spacescope/internal/metrics"
)

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

// Backend is the durable side of the ledger. Remove returns ErrNotFound for
// an unknown id.
type Backend interface {
	Append(ctx context.Context, e Entry) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	List(ctx context.Context, page, pageSize int) (Page, error)
}

// Cache is a local mirror stored as one blob, read and written wholesale.
// Entries are kept in append order.
type Cache interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Ledger is the Store used by the explorer: durable backend first, local
// cache as the fallback.
type Ledger struct {
	backend Backend
	cache   Cache
	log     Logger
}

// NewLedger wires a backend with an optional cache (nil disables it).
func NewLedger(backend Backend, cache Cache, log Logger) *Ledger {
	if log == nil {
		log = nopLogger{}
	}
	return &Ledger{backend: backend, cache: cache, log: log}
}

func (l *Ledger) Append(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	e = e.Clone()

	err := l.backend.Append(ctx, e)
	apply := func(entries []Entry) []Entry { return append(entries, e) }
	if err != nil {
		return l.fallbackWrite(ctx, "append", err, apply)
	}
	l.mirror(ctx, "append", apply)
	return nil
}

func (l *Ledger) RemoveByID(ctx context.Context, id string) error {
	apply := func(entries []Entry) []Entry {
		out := entries[:0]
		for _, e := range entries {
			if e.ID != id {
				out = append(out, e)
			}
		}
		return out
	}

	err := l.backend.Remove(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return l.fallbackWrite(ctx, "remove", err, apply)
	}
	l.mirror(ctx, "remove", apply)
	return nil
}

func (l *Ledger) ClearAll(ctx context.Context) error {
	apply := func([]Entry) []Entry { return nil }
	if err := l.backend.Clear(ctx); err != nil {
		return l.fallbackWrite(ctx, "clear", err, apply)
	}
	l.mirror(ctx, "clear", apply)
	return nil
}

func (l *Ledger) LoadPage(ctx context.Context, page, pageSize int) (Page, error) {
	page, pageSize = normalizePaging(page, pageSize)

	p, err := l.backend.List(ctx, page, pageSize)
	if err == nil {
		return p, nil
	}
	if l.cache == nil || ctx.Err() != nil {
		return Page{}, &PersistenceError{Op: "load", Err: err}
	}

	entries, cerr := l.cache.Load(ctx)
	if cerr != nil {
		l.log.Errorf("history: backend and local cache both failed: %v / %v", err, cerr)
		return Page{}, &PersistenceError{Op: "load", Err: err}
	}
	metrics.HistoryFallbacksTotal.WithLabelValues("load").Inc()
	l.log.Warnf("history: backend unavailable, serving local cache: %v", err)

	p = Paginate(entries, page, pageSize)
	p.Fallback = true
	return p, nil
}

// fallbackWrite applies a failed backend write to the cache so the change is
// not lost, and still reports the failure.
func (l *Ledger) fallbackWrite(ctx context.Context, op string, berr error, apply func([]Entry) []Entry) error {
	if l.cache == nil || ctx.Err() != nil {
		return &PersistenceError{Op: op, Err: berr}
	}
	if err := l.update(ctx, apply); err != nil {
		l.log.Errorf("history: %s failed on backend and local cache: %v / %v", op, berr, err)
		return &PersistenceError{Op: op, Err: berr}
	}
	metrics.HistoryFallbacksTotal.WithLabelValues(op).Inc()
	return &PersistenceError{Op: op, Err: berr, Cached: true}
}

func (l *Ledger) mirror(ctx context.Context, op string, apply func([]Entry) []Entry) {
	if l.cache == nil {
		return
	}
	if err := l.update(ctx, apply); err != nil {
		l.log.Warnf("history: could not mirror %s to local cache: %v", op, err)
	}
}

func (l *Ledger) update(ctx context.Context, apply func([]Entry) []Entry) error {
	return CacheBackend{Cache: l.cache}.update(ctx, apply)
}
