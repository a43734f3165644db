package player

import (
	"sync"
	"time"
)

// DefaultCoalesceWindow is the buffer window for non-urgent field changes.
const DefaultCoalesceWindow = 40 * time.Millisecond

// coalescer buffers outbound field changes for a short window and merges
// them into one payload. Repeated writes to the same field are last-write-
// wins; flush order across fields is first-write insertion order.
type coalescer struct {
	mu     sync.Mutex
	window time.Duration
	flush  func(payload map[string]any)

	fields map[string]any
	order  []string
	timer  *time.Timer
	closed bool
}

func newCoalescer(window time.Duration, flush func(payload map[string]any)) *coalescer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &coalescer{window: window, flush: flush, fields: map[string]any{}}
}

// Put buffers one field change and arms the flush timer if needed.
func (c *coalescer) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, seen := c.fields[key]; !seen {
		c.order = append(c.order, key)
	}
	c.fields[key] = value

	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.fire)
	}
}

func (c *coalescer) fire() {
	if payload := c.take(); payload != nil {
		c.flush(payload)
	}
}

// take drains the buffer, returning nil when there is nothing pending.
func (c *coalescer) take() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.fields) == 0 {
		return nil
	}

	payload := make(map[string]any, len(c.fields))
	for _, key := range c.order {
		payload[key] = c.fields[key]
	}
	c.fields = map[string]any{}
	c.order = nil
	return payload
}

// Flush synchronously drains any buffered fields. Urgent operations call it
// before sending so ordering is preserved.
func (c *coalescer) Flush() {
	c.fire()
}

// Pending reports whether changes are buffered, for tests.
func (c *coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fields) > 0
}

// Close cancels the timer and discards any buffered changes.
func (c *coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.fields = map[string]any{}
	c.order = nil
}
