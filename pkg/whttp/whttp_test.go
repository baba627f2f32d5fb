package whttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendHTTPRequestSetsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != USER_AGENT {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Test") != "1" {
			t.Errorf("custom header missing")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type not set for body")
		}
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(b)
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := SendHTTPRequest(context.Background(), &WHTTPReq{
		Method:  "POST",
		URL:     srv.URL,
		Body:    `{"a":1}`,
		Headers: []WHTTPHeader{{Name: "X-Test", Value: "1"}},
	}, client)
	if err != nil {
		t.Fatalf("SendHTTPRequest: %v", err)
	}
	if res.StatusCode != http.StatusCreated || !res.IsSuccess() {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if res.BodyString != `{"a":1}` {
		t.Fatalf("unexpected body %q", res.BodyString)
	}
}

func TestNewClientRejectsBadProxy(t *testing.T) {
	if _, err := NewClient(ClientOptions{Proxy: "://bad"}); err == nil {
		t.Fatalf("expected error for malformed proxy")
	}
}

func TestHTMLTitle(t *testing.T) {
	title, ok := HTMLTitle("<html><head><title> 502 Bad Gateway </title></head><body></body></html>")
	if !ok || title != "502 Bad Gateway" {
		t.Fatalf("got %q, %v", title, ok)
	}
	if _, ok := HTMLTitle("<p>no title here</p>"); ok {
		t.Fatalf("expected no title")
	}
}
