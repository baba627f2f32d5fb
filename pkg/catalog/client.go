package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sw33tLie/spacescope/internal/metrics"
	"github.com/sw33tLie/spacescope/pkg/whttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultPageSize = 20

	CATALOG_PATH = "/catalog"
	SEARCH_PATH  = "/search"
)

var errMalformed = errors.New("malformed response body")

// Client talks to the catalog HTTP API.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the retryable transport.
func WithHTTPClient(c *retryablehttp.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64) ClientOption {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient returns a Client rooted at baseURL (for example
// "http://localhost:5000/api").
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid catalog base URL %q", baseURL)
	}
	c := &Client{baseURL: strings.TrimRight(u.String(), "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http, err = whttp.NewClient(whttp.ClientOptions{Timeout: 15 * time.Second})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Browse(ctx context.Context, page, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	endpoint := fmt.Sprintf("%s%s?page=%d&limit=%d", c.baseURL, CATALOG_PATH, page, pageSize)

	body, err := c.do(ctx, "browse", &whttp.WHTTPReq{Method: "GET", URL: endpoint})
	if err != nil {
		return Page{}, err
	}

	// Legacy servers answer with a bare array and no pagination metadata.
	if gjson.Parse(body).IsArray() {
		items, err := decodeItems(gjson.Parse(body))
		if err != nil {
			return Page{}, &TransportError{Op: "browse", URL: endpoint, Err: err}
		}
		return Page{Items: items, HasMore: len(items) >= pageSize, TotalItems: len(items)}, nil
	}

	itemsRes := gjson.Get(body, "items")
	if !itemsRes.IsArray() {
		return Page{}, &TransportError{Op: "browse", URL: endpoint, Err: errMalformed}
	}
	items, err := decodeItems(itemsRes)
	if err != nil {
		return Page{}, &TransportError{Op: "browse", URL: endpoint, Err: err}
	}

	out := Page{Items: items}
	if hm := firstOf(body, "hasMore", "has_more"); hm.Exists() {
		out.HasMore = hm.Bool()
	} else {
		out.HasMore = len(items) >= pageSize
	}
	if total := firstOf(body, "totalItems", "total_items", "returnedCount", "returned_count"); total.Exists() {
		out.TotalItems = int(total.Int())
	} else {
		out.TotalItems = len(items)
	}
	return out, nil
}

type searchRequest struct {
	Query       string `json:"query"`
	Page        int    `json:"page"`
	PageSize    int    `json:"pageSize"`
	SkipHistory bool   `json:"skipHistory"`
}

func (c *Client) Search(ctx context.Context, query string, page, pageSize int, opts SearchOptions) (SearchResult, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	endpoint := c.baseURL + SEARCH_PATH
	payload, err := json.Marshal(searchRequest{
		Query:       query,
		Page:        page,
		PageSize:    pageSize,
		SkipHistory: !opts.CreateHistory,
	})
	if err != nil {
		return SearchResult{}, err
	}

	body, err := c.do(ctx, "search", &whttp.WHTTPReq{Method: "POST", URL: endpoint, Body: string(payload)})
	if err != nil {
		return SearchResult{}, err
	}

	resultsRes := firstOf(body, "results", "items")
	if !resultsRes.IsArray() {
		return SearchResult{}, &TransportError{Op: "search", URL: endpoint, Err: errMalformed}
	}
	items, err := decodeItems(resultsRes)
	if err != nil {
		return SearchResult{}, &TransportError{Op: "search", URL: endpoint, Err: err}
	}

	out := SearchResult{
		Query:            query,
		Items:            items,
		ConfidenceScores: decodeScores(firstOf(body, "confidenceScores", "confidence_scores")),
		Timestamp:        gjson.Get(body, "timestamp").Int(),
	}
	if q := gjson.Get(body, "query"); q.Exists() && q.String() != "" {
		out.Query = q.String()
	}
	if hm := firstOf(body, "hasMore", "has_more"); hm.Exists() {
		out.HasMore = hm.Bool()
	}
	if total := firstOf(body, "totalItems", "total_items", "resultCount", "result_count"); total.Exists() {
		out.TotalItems = int(total.Int())
	} else {
		out.TotalItems = len(items)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op string, req *whttp.WHTTPReq) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &TransportError{Op: op, URL: req.URL, Err: err}
		}
	}

	start := time.Now()
	res, err := whttp.SendHTTPRequest(ctx, req, c.http)
	metrics.CatalogRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CatalogRequestsTotal.WithLabelValues(op, "error").Inc()
		return "", &TransportError{Op: op, URL: req.URL, Err: err}
	}
	metrics.CatalogRequestsTotal.WithLabelValues(op, strconv.Itoa(res.StatusCode)).Inc()
	if !res.IsSuccess() {
		return "", &TransportError{Op: op, URL: req.URL, StatusCode: res.StatusCode}
	}
	if !gjson.Valid(res.BodyString) {
		if title, ok := whttp.HTMLTitle(res.BodyString); ok && title != "" {
			return "", &TransportError{Op: op, URL: req.URL, Err: fmt.Errorf("%w: HTML page %q", errMalformed, title)}
		}
		return "", &TransportError{Op: op, URL: req.URL, Err: errMalformed}
	}
	return res.BodyString, nil
}

func firstOf(body string, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := gjson.Get(body, p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func decodeItems(arr gjson.Result) ([]Item, error) {
	raw := arr.Array()
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var it Item
		if err := json.Unmarshal([]byte(r.Raw), &it); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

// decodeScores reads an object keyed by item id. Non-numeric keys are skipped.
func decodeScores(obj gjson.Result) map[int]float64 {
	if !obj.IsObject() {
		return nil
	}
	scores := map[int]float64{}
	obj.ForEach(func(key, value gjson.Result) bool {
		id, err := strconv.Atoi(key.String())
		if err == nil {
			scores[id] = value.Float()
		}
		return true
	})
	return scores
}
