package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sw33tLie/spacescope/pkg/whttp"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// sharedReadTimeout bounds a history read that several callers wait on.
const sharedReadTimeout = 30 * time.Second

// RemoteBackend talks to the history endpoints of the catalog API.
type RemoteBackend struct {
	baseURL string
	client  *retryablehttp.Client
	reads   singleflight.Group
}

// NewRemoteBackend returns a backend rooted at baseURL (the API root, for
// example "http://localhost:5000/api"). client may be nil.
func NewRemoteBackend(baseURL string, client *retryablehttp.Client) *RemoteBackend {
	if client == nil {
		client, _ = whttp.NewClient(whttp.ClientOptions{})
	}
	return &RemoteBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *RemoteBackend) Append(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method: "POST",
		URL:    b.baseURL + "/history",
		Body:   string(body),
	}, b.client)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("POST /history: HTTP %d", res.StatusCode)
	}
	return nil
}

func (b *RemoteBackend) Remove(ctx context.Context, id string) error {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method: "DELETE",
		URL:    b.baseURL + "/history/" + url.PathEscape(id),
	}, b.client)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if !res.IsSuccess() {
		return fmt.Errorf("DELETE /history/%s: HTTP %d", id, res.StatusCode)
	}
	return nil
}

func (b *RemoteBackend) Clear(ctx context.Context) error {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method: "DELETE",
		URL:    b.baseURL + "/history",
	}, b.client)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("DELETE /history: HTTP %d", res.StatusCode)
	}
	return nil
}

// List fetches one page. Concurrent reads of the same page share one request.
// The shared request outlives any single caller; each caller stops waiting
// when its own ctx ends.
func (b *RemoteBackend) List(ctx context.Context, page, pageSize int) (Page, error) {
	page, pageSize = normalizePaging(page, pageSize)
	endpoint := fmt.Sprintf("%s/history?page=%d&pageSize=%d&page_size=%d", b.baseURL, page, pageSize, pageSize)

	ch := b.reads.DoChan(endpoint, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()

		res, err := whttp.SendHTTPRequest(fctx, &whttp.WHTTPReq{Method: "GET", URL: endpoint}, b.client)
		if err != nil {
			return Page{}, err
		}
		if !res.IsSuccess() {
			return Page{}, fmt.Errorf("GET /history: HTTP %d", res.StatusCode)
		}
		return decodePage(res.BodyString, page, pageSize)
	})

	var v interface{}
	select {
	case <-ctx.Done():
		return Page{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Page{}, r.Err
		}
		v = r.Val
	}
	p := v.(Page)
	items := make([]Entry, len(p.Items))
	for i, e := range p.Items {
		items[i] = e.Clone()
	}
	p.Items = items
	return p, nil
}

func decodePage(body string, page, pageSize int) (Page, error) {
	if !gjson.Valid(body) {
		return Page{}, fmt.Errorf("GET /history: malformed response body")
	}
	itemsRes := gjson.Get(body, "items")
	if !itemsRes.IsArray() {
		return Page{}, fmt.Errorf("GET /history: response has no items array")
	}
	var items []Entry
	if err := json.Unmarshal([]byte(itemsRes.Raw), &items); err != nil {
		return Page{}, fmt.Errorf("GET /history: %w", err)
	}
	// Older servers send snake_case entry fields.
	for i, raw := range itemsRes.Array() {
		if items[i].ResultCount == 0 {
			items[i].ResultCount = int(raw.Get("result_count").Int())
		}
		if items[i].ConfidenceScores == nil {
			if cs := raw.Get("confidence_scores"); cs.IsObject() {
				_ = json.Unmarshal([]byte(cs.Raw), &items[i].ConfidenceScores)
			}
		}
	}

	p := Page{
		Items:      items,
		Page:       intOr(body, page, "page"),
		PageSize:   intOr(body, pageSize, "pageSize", "page_size"),
		TotalItems: intOr(body, len(items), "totalItems", "total_items"),
	}
	if p.PageSize < 1 {
		p.PageSize = pageSize
	}
	p.TotalPages = intOr(body, (p.TotalItems+p.PageSize-1)/p.PageSize, "totalPages", "total_pages")
	p.HasNext = boolOr(body, p.Page < p.TotalPages, "hasNext", "has_next")
	p.HasPrevious = boolOr(body, p.Page > 1, "hasPrevious", "has_previous")
	return p, nil
}

func intOr(body string, def int, paths ...string) int {
	for _, path := range paths {
		if r := gjson.Get(body, path); r.Exists() {
			return int(r.Int())
		}
	}
	return def
}

func boolOr(body string, def bool, paths ...string) bool {
	for _, path := range paths {
		if r := gjson.Get(body, path); r.Exists() {
			return r.Bool()
		}
	}
	return def
}
