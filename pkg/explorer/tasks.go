package explorer

import "sync"

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// tracker counts outstanding work. Unlike a WaitGroup it can be waited on
// while new work is still being added.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		panic("explorer: tracker.done without add")
	}
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

// wait returns a channel closed once the count drops to zero.
func (t *tracker) wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return closedChan
	}
	return t.idle
}

func (t *tracker) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n > 0
}
