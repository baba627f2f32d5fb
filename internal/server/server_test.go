package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sw33tLie/spacescope/internal/metrics"
	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/explorer"
	"github.com/sw33tLie/spacescope/pkg/history"
	"github.com/sw33tLie/spacescope/pkg/storage"
)

func newTestServer(t *testing.T, user, pass string) (*httptest.Server, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "server.sqlite"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var items []catalog.Item
	for i := 1; i <= 30; i++ {
		name := "Nebula"
		if i%3 == 0 {
			name = "Mars Surface"
		}
		items = append(items, catalog.Item{ID: i, Name: name, Category: "image", Status: "Active"})
	}
	if err := db.ReplaceCatalog(context.Background(), items); err != nil {
		t.Fatalf("ReplaceCatalog: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	s := New(db, user, pass)
	s.Gatherer = reg
	s.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func TestCatalogAndSearchThroughClient(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	c, err := catalog.NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	page, err := c.Browse(ctx, 2, 12)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if len(page.Items) != 12 || page.Items[0].ID != 13 || !page.HasMore || page.TotalItems != 30 {
		t.Fatalf("browse page 2 = %d items, first %d, hasMore %v, total %d", len(page.Items), page.Items[0].ID, page.HasMore, page.TotalItems)
	}
	page, _ = c.Browse(ctx, 3, 12)
	if len(page.Items) != 6 || page.HasMore {
		t.Fatalf("last page = %d items, hasMore %v", len(page.Items), page.HasMore)
	}

	res, err := c.Search(ctx, "mars", 1, 4, catalog.SearchOptions{CreateHistory: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalItems != 10 || len(res.Items) != 4 || !res.HasMore || res.Timestamp != 1700000000000 {
		t.Fatalf("search = %+v", res)
	}
}

func TestSearchScoresEveryQueryWord(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	c, _ := catalog.NewClient(srv.URL + "/api")
	ctx := context.Background()

	res, err := c.Search(ctx, "mars rover", 1, 4, catalog.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalItems != 10 || len(res.Items) != 4 || !res.HasMore {
		t.Fatalf("mars rover = %d items of %d", len(res.Items), res.TotalItems)
	}
	if len(res.ConfidenceScores) != 4 || res.ConfidenceScores[res.Items[0].ID] != 50 {
		t.Fatalf("scores = %v", res.ConfidenceScores)
	}

	res, _ = c.Search(ctx, "mars surface", 1, 20, catalog.SearchOptions{})
	if len(res.Items) != 10 || res.ConfidenceScores[3] != 100 {
		t.Fatalf("mars surface = %d items, scores %v", len(res.Items), res.ConfidenceScores)
	}

	// Mars Surface matches two of the three words and outranks Nebula.
	res, _ = c.Search(ctx, "surface nebula mars", 1, 30, catalog.SearchOptions{})
	if res.TotalItems != 30 || res.Items[0].ID != 3 || res.ConfidenceScores[3] != 66.67 {
		t.Fatalf("first = %+v, scores %v", res.Items[0], res.ConfidenceScores)
	}
	if last := res.Items[len(res.Items)-1]; last.Name != "Nebula" || res.ConfidenceScores[last.ID] != 33.33 {
		t.Fatalf("last = %+v, scores %v", last, res.ConfidenceScores)
	}
}

func TestSearchResultCountIsPageSize(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	resp, err := http.Post(srv.URL+"/api/search", "application/json", strings.NewReader(`{"query":"mars","page":1,"pageSize":4}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"resultCount":4`) || !strings.Contains(string(body), `"totalItems":10`) {
		t.Fatalf("body = %s", body)
	}
}

func TestPagingBounds(t *testing.T) {
	srv, _ := newTestServer(t, "", "")

	for _, path := range []string{
		"/api/catalog?page=999999999999&limit=100",
		"/api/history?page=999999999999&pageSize=10",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("GET %s: status = %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Post(srv.URL+"/api/search", "application/json", strings.NewReader(`{"query":"mars","page":999999999999,"pageSize":10}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("search huge page: status = %d", resp.StatusCode)
	}

	c, _ := catalog.NewClient(srv.URL + "/api")
	page, err := c.Browse(context.Background(), 1, 1<<40)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if len(page.Items) != 30 || page.HasMore {
		t.Fatalf("capped browse = %d items, hasMore %v", len(page.Items), page.HasMore)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	resp, err := http.Post(srv.URL+"/api/search", "application/json", strings.NewReader(`{"query":"  "}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHistoryThroughRemoteBackend(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	b := history.NewRemoteBackend(srv.URL+"/api", nil)
	ctx := context.Background()

	for _, e := range []history.Entry{
		{ID: "a", Query: "mars", Timestamp: 1, ResultCount: 10},
		{ID: "b", Query: "nebula", Timestamp: 2, ResultCount: 20},
	} {
		if err := b.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	p, err := b.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].ID != "b" || p.TotalPages != 2 || !p.HasNext {
		t.Fatalf("page = %+v", p)
	}

	if err := b.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := b.Remove(ctx, "a"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Remove twice = %v", err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	p, _ = b.List(ctx, 1, 10)
	if p.TotalItems != 0 {
		t.Fatalf("after clear = %+v", p)
	}
}

func TestExplorerAgainstServer(t *testing.T) {
	srv, db := newTestServer(t, "", "")
	c, _ := catalog.NewClient(srv.URL + "/api")
	store := history.NewLedger(history.NewRemoteBackend(srv.URL+"/api", nil), &history.MemoryCache{}, nil)

	e, err := explorer.New(explorer.Config{Catalog: c, History: store, PageSize: 12})
	if err != nil {
		t.Fatalf("explorer.New: %v", err)
	}
	defer e.Close()

	e.Start()
	e.Wait()
	if v := e.View(); len(v.Stream.Items) != 12 || v.Stream.TotalItems != 30 {
		t.Fatalf("browse view = %+v", v)
	}

	e.Submit("mars")
	e.Wait()
	if v := e.View(); v.Mode != explorer.ModeSearch || len(v.Stream.Items) != 10 {
		t.Fatalf("search view = %+v", v)
	}

	p, err := db.List(context.Background(), 1, 10)
	if err != nil || len(p.Items) != 1 || p.Items[0].Query != "mars" || p.Items[0].ResultCount != 10 {
		t.Fatalf("stored history = %+v, %v", p, err)
	}
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, "admin", "secret")

	resp, err := http.Get(srv.URL + "/api/catalog")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without credentials = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/catalog", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with credentials = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	if resp, err := http.Get(srv.URL + "/api/catalog?page=1&limit=5"); err == nil {
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "spacescope_http_requests_total") {
		t.Fatalf("request counter missing from /metrics")
	}
}
