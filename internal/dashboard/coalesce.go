package dashboard

import (
	"sync"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// pageCall is one history page build that concurrent callers share.
type pageCall struct {
	done chan struct{}
	page sensor.Page
}

// pageCoalescer collapses concurrent cache misses for the same page key into one build.
type pageCoalescer struct {
	mu    sync.Mutex
	calls map[string]*pageCall
}

func newPageCoalescer() *pageCoalescer {
	return &pageCoalescer{calls: make(map[string]*pageCall)}
}

// do runs fn for key unless a build for key is already running, in which case it waits for
// that build. shared reports whether the result came from another caller's build.
func (c *pageCoalescer) do(key string, fn func() sensor.Page) (page sensor.Page, shared bool) {
	c.mu.Lock()
	if call, ok := c.calls[key]; ok {
		c.mu.Unlock()
		<-call.done
		return call.page, true
	}
	call := &pageCall{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.calls, key)
		c.mu.Unlock()
		close(call.done)
	}()
	call.page = fn()
	return call.page, false
}
