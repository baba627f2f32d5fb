package history

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/sw33tLie/spacescope/pkg/catalog"
)

// flakyBackend wraps a working backend and fails every call while down is set.
type flakyBackend struct {
	Backend
	down bool
}

var errDown = errors.New("backend down")

func (b *flakyBackend) Append(ctx context.Context, e Entry) error {
	if b.down {
		return errDown
	}
	return b.Backend.Append(ctx, e)
}

func (b *flakyBackend) Remove(ctx context.Context, id string) error {
	if b.down {
		return errDown
	}
	return b.Backend.Remove(ctx, id)
}

func (b *flakyBackend) Clear(ctx context.Context) error {
	if b.down {
		return errDown
	}
	return b.Backend.Clear(ctx)
}

func (b *flakyBackend) List(ctx context.Context, page, pageSize int) (Page, error) {
	if b.down {
		return Page{}, errDown
	}
	return b.Backend.List(ctx, page, pageSize)
}

func newFlakyLedger() (*Ledger, *flakyBackend, *MemoryCache) {
	backend := &flakyBackend{Backend: CacheBackend{Cache: &MemoryCache{}}}
	cache := &MemoryCache{}
	return NewLedger(backend, cache, nil), backend, cache
}

func sampleEntry() Entry {
	url := "https://images.nasa.gov/apollo.jpg"
	return Entry{
		ID:               "e1",
		Query:            "apollo",
		Timestamp:        1700000000000,
		ResultCount:      2,
		Results:          []catalog.Item{{ID: 1, Name: "Apollo 11", MediaURL: &url}, {ID: 2, Name: "Apollo 13"}},
		ConfidenceScores: map[int]float64{1: 0.9},
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	l, _, _ := newFlakyLedger()
	ctx := context.Background()
	want := sampleEntry()

	if err := l.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}
	p, err := l.LoadPage(ctx, 1, 1)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	if len(p.Items) != 1 {
		t.Fatalf("got %d items", len(p.Items))
	}
	got := p.Items[0]
	if got.ID != want.ID || got.Query != want.Query || got.ResultCount != want.ResultCount || !reflect.DeepEqual(got.Results, want.Results) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if p.Fallback {
		t.Fatalf("healthy backend should not report fallback")
	}
}

func TestLedgerRejectsInvalidEntry(t *testing.T) {
	l, _, _ := newFlakyLedger()
	for _, e := range []Entry{{ID: "x"}, {Query: "x"}} {
		if err := l.Append(context.Background(), e); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("Append(%+v) = %v", e, err)
		}
	}
}

func TestLedgerMirrorsWritesToCache(t *testing.T) {
	l, _, cache := newFlakyLedger()
	ctx := context.Background()
	l.Append(ctx, sampleEntry())

	entries, _ := cache.Load(ctx)
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Fatalf("cache = %+v", entries)
	}

	if err := l.RemoveByID(ctx, "e1"); err != nil {
		t.Fatalf("RemoveByID: %v", err)
	}
	entries, _ = cache.Load(ctx)
	if len(entries) != 0 {
		t.Fatalf("cache after remove = %+v", entries)
	}
}

func TestLedgerRemoveUnknownIsNoop(t *testing.T) {
	l, _, _ := newFlakyLedger()
	if err := l.RemoveByID(context.Background(), "nope"); err != nil {
		t.Fatalf("RemoveByID unknown id: %v", err)
	}
}

func TestLedgerWriteFailureFallsBackToCache(t *testing.T) {
	l, backend, cache := newFlakyLedger()
	ctx := context.Background()
	backend.down = true

	err := l.Append(ctx, sampleEntry())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !pe.Cached || !errors.Is(err, errDown) {
		t.Fatalf("pe = %+v", pe)
	}
	entries, _ := cache.Load(ctx)
	if len(entries) != 1 {
		t.Fatalf("entry not kept in cache")
	}
}

func TestLedgerWriteFailureWithoutCache(t *testing.T) {
	backend := &flakyBackend{Backend: CacheBackend{Cache: &MemoryCache{}}, down: true}
	l := NewLedger(backend, nil, nil)

	err := l.ClearAll(context.Background())
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Cached {
		t.Fatalf("err = %v", err)
	}
}

func TestLedgerReadFallsBackToCache(t *testing.T) {
	l, backend, _ := newFlakyLedger()
	ctx := context.Background()
	if err := l.Append(ctx, sampleEntry()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	backend.down = true
	p, err := l.LoadPage(ctx, 1, 10)
	if err != nil {
		t.Fatalf("LoadPage should fall back, got %v", err)
	}
	if !p.Fallback || len(p.Items) != 1 || p.Items[0].ID != "e1" {
		t.Fatalf("page = %+v", p)
	}
}

func TestLedgerReadFailsWhenBothFail(t *testing.T) {
	l, backend, cache := newFlakyLedger()
	backend.down = true
	cache.LoadErr = errors.New("disk gone")

	_, err := l.LoadPage(context.Background(), 1, 10)
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "load" {
		t.Fatalf("err = %v", err)
	}
}
