package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/sw33tLie/spacescope/internal/catalogtest"
	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/explorer"
	"github.com/sw33tLie/spacescope/pkg/history"
	"github.com/sw33tLie/spacescope/pkg/stream"
)

func withConfig(t *testing.T, kv map[string]interface{}) {
	t.Helper()
	viper.Reset()
	setDefaults()
	for k, v := range kv {
		viper.Set(k, v)
	}
	t.Cleanup(viper.Reset)
}

func TestNewEngineLocalHistory(t *testing.T) {
	withConfig(t, map[string]interface{}{
		"history.backend":  "local",
		"history.cache":    "file",
		"history.cachedir": t.TempDir(),
	})

	e, err := newEngine()
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	defer e.close()

	ctx := context.Background()
	if err := e.ledger.Append(ctx, history.Entry{ID: "a", Query: "mars", Timestamp: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	p, err := e.ledger.LoadPage(ctx, 1, 10)
	if err != nil || len(p.Items) != 1 || p.Items[0].Query != "mars" {
		t.Fatalf("LoadPage: %+v, %v", p, err)
	}
}

func TestNewEngineRejectsBadSettings(t *testing.T) {
	cases := []map[string]interface{}{
		{"history.backend": "ftp"},
		{"history.cache": "memcached"},
		{"history.backend": "local", "history.cache": "none"},
		{"api.url": "not a url"},
	}
	for _, kv := range cases {
		withConfig(t, kv)
		if e, err := newEngine(); err == nil {
			e.close()
			t.Fatalf("%v: expected an error", kv)
		}
	}
}

func TestScreenRendersOnlyNewItems(t *testing.T) {
	var buf bytes.Buffer
	scr := &screen{out: &buf, lastRetry: -1}

	items := []catalog.Item{{ID: 1, Name: "Apollo 11"}, {ID: 2, Name: "Voyager"}}
	v := explorer.View{Mode: explorer.ModeBrowse, Stream: stream.State{Phase: stream.Ready, Items: items[:1]}}
	scr.render(v)
	v.Stream.Items = items
	scr.render(v)

	out := buf.String()
	if strings.Count(out, "Apollo 11") != 1 || strings.Count(out, "Voyager") != 1 {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if n := strings.Count(out, "--- catalog ---"); n != 1 {
		t.Fatalf("section header printed %d times:\n%s", n, out)
	}
	if n := strings.Count(out, "CATEGORY"); n != 1 {
		t.Fatalf("column header printed %d times:\n%s", n, out)
	}
}

func TestScreenNewSectionOnQueryChange(t *testing.T) {
	var buf bytes.Buffer
	scr := &screen{out: &buf, lastRetry: -1}

	scr.render(explorer.View{Mode: explorer.ModeBrowse, Stream: stream.State{Phase: stream.Ready, Items: []catalog.Item{{ID: 1, Name: "Apollo 11"}}}})
	scr.render(explorer.View{Mode: explorer.ModeSearch, Stream: stream.State{Phase: stream.Ready, Query: "mars", Items: []catalog.Item{{ID: 9, Name: "Mars Rover"}}, Scores: map[int]float64{9: 75}}})

	out := buf.String()
	if !strings.Contains(out, `--- search "mars" ---`) || !strings.Contains(out, "75.00") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if n := strings.Count(out, "CATEGORY"); n != 2 {
		t.Fatalf("column header printed %d times:\n%s", n, out)
	}
}

func TestScreenShowsRetryCountdownOnce(t *testing.T) {
	var buf bytes.Buffer
	scr := &screen{out: &buf, lastRetry: -1}

	v := explorer.View{Mode: explorer.ModeBrowse}
	v.Retry.Active = true
	v.Retry.SecondsRemaining = 3
	scr.render(v)
	scr.render(v)
	v.Retry.SecondsRemaining = 2
	scr.render(v)

	if got := strings.Count(buf.String(), "retrying in"); got != 2 {
		t.Fatalf("got %d countdown lines:\n%s", got, buf.String())
	}
}

func TestExploreLineSearchesWithoutDebounce(t *testing.T) {
	fake := catalogtest.New(5)
	fake.Results["mars"] = 3
	ex, err := explorer.New(explorer.Config{Catalog: fake, PageSize: 20, Debounce: time.Hour})
	if err != nil {
		t.Fatalf("explorer.New: %v", err)
	}
	defer ex.Close()

	var buf bytes.Buffer
	scr := &screen{out: &buf, lastRetry: -1}
	if quit, err := exploreLine(context.Background(), ex, nil, scr, "  mars "); quit || err != nil {
		t.Fatalf("exploreLine: quit=%v err=%v", quit, err)
	}

	done := make(chan struct{})
	go func() {
		ex.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("search waited on the debounce timer")
	}

	if n := fake.CountCalls("search", "mars"); n != 1 {
		t.Fatalf("search calls = %d, want 1", n)
	}
	if v := ex.View(); v.Mode != explorer.ModeSearch || len(v.Stream.Items) != 3 {
		t.Fatalf("view = %s with %d items", v.Mode, len(v.Stream.Items))
	}
}
