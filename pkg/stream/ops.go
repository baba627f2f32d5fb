package stream

import "fmt"

// Kind tags which stream an operation belongs to.
type Kind int

const (
	KindBrowse Kind = iota
	KindSearch
)

func (k Kind) String() string {
	switch k {
	case KindBrowse:
		return "browse"
	case KindSearch:
		return "search"
	}
	return "unknown"
}

// Phase is the state machine position of a stream.
type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	LoadingMore
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case LoadingMore:
		return "loading-more"
	case Failed:
		return "error"
	}
	return "unknown"
}

// Op is a stream operation. The set is closed: Load, LoadMore, Search and
// SearchLoadMore.
type Op interface {
	Kind() Kind
	String() string
	isOp()
}

// Load fetches the first browse page.
type Load struct{}

// LoadMore fetches browse page Page. Zero means the page after the last one
// loaded.
type LoadMore struct{ Page int }

// Search fetches the first page of results for Query.
type Search struct{ Query string }

// SearchLoadMore fetches page Page of Query. Zero means the next page.
type SearchLoadMore struct {
	Query string
	Page  int
}

func (Load) Kind() Kind           { return KindBrowse }
func (LoadMore) Kind() Kind       { return KindBrowse }
func (Search) Kind() Kind         { return KindSearch }
func (SearchLoadMore) Kind() Kind { return KindSearch }

func (Load) String() string { return "browse page 1" }
func (o LoadMore) String() string {
	return fmt.Sprintf("browse page %d", o.Page)
}
func (o Search) String() string { return fmt.Sprintf("search %q page 1", o.Query) }
func (o SearchLoadMore) String() string {
	return fmt.Sprintf("search %q page %d", o.Query, o.Page)
}

func (Load) isOp()           {}
func (LoadMore) isOp()       {}
func (Search) isOp()         {}
func (SearchLoadMore) isOp() {}
