package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRemoteBackendList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" || r.URL.Query().Get("page") != "2" {
			t.Errorf("%s ?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Write([]byte(`{"items":[{"id":"a","query":"mars","timestamp":5,"result_count":3,"results":[],"confidence_scores":{"1":0.5}}],"page":2,"page_size":1,"total_items":3,"total_pages":3,"has_next":true,"has_previous":true}`))
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL+"/api/", nil)
	p, err := b.List(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].ResultCount != 3 || p.Items[0].ConfidenceScores[1] != 0.5 {
		t.Fatalf("items = %+v", p.Items)
	}
	if p.TotalItems != 3 || p.TotalPages != 3 || !p.HasNext || !p.HasPrevious {
		t.Fatalf("page = %+v", p)
	}
}

func TestRemoteBackendAppendAndDelete(t *testing.T) {
	var posted Entry
	var deletes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/history":
			json.NewDecoder(r.Body).Decode(&posted)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete && r.URL.Path == "/history/e1":
			atomic.AddInt32(&deletes, 1)
		case r.Method == http.MethodDelete && r.URL.Path == "/history/gone":
			http.NotFound(w, r)
		case r.Method == http.MethodDelete && r.URL.Path == "/history":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, nil)
	ctx := context.Background()

	if err := b.Append(ctx, sampleEntry()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if posted.ID != "e1" || posted.Query != "apollo" || len(posted.Results) != 2 {
		t.Fatalf("posted = %+v", posted)
	}
	if err := b.Remove(ctx, "e1"); err != nil || atomic.LoadInt32(&deletes) != 1 {
		t.Fatalf("Remove: %v", err)
	}
	if err := b.Remove(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove unknown = %v", err)
	}
	if err := b.Clear(ctx); err == nil {
		t.Fatalf("Clear should surface 500")
	}
}

func TestRemoteBackendBehindLedgerFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cache := &MemoryCache{}
	cache.Save(context.Background(), []Entry{sampleEntry()})
	l := NewLedger(NewRemoteBackend(srv.URL, nil), cache, nil)

	p, err := l.LoadPage(context.Background(), 1, 10)
	if err != nil || !p.Fallback || len(p.Items) != 1 {
		t.Fatalf("page = %+v, err = %v", p, err)
	}
}

func TestRemoteBackendSharedReadSurvivesCallerCancel(t *testing.T) {
	var hits int32
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		entered <- struct{}{}
		<-release
		w.Write([]byte(`{"items":[{"id":"a","query":"mars","timestamp":5,"resultCount":1,"results":[]}],"page":1,"pageSize":10,"totalItems":1}`))
	}))
	defer srv.Close()
	defer close(release)

	b := NewRemoteBackend(srv.URL, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := b.List(ctxA, 1, 10)
		errA <- err
	}()
	<-entered

	type result struct {
		p   Page
		err error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := b.List(context.Background(), 1, 10)
		resB <- result{p, err}
	}()
	// Let the second caller join the in-flight read.
	time.Sleep(100 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v", err)
	}

	release <- struct{}{}
	select {
	case r := <-resB:
		if r.err != nil || len(r.p.Items) != 1 || r.p.Items[0].Query != "mars" {
			t.Fatalf("live caller got %+v, %v", r.p, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("live caller never returned")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("server hits = %d, want 1", n)
	}
}
