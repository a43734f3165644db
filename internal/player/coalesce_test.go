package player

import (
	"sync"
	"testing"
	"time"
)

func TestCoalescer(t *testing.T) {
	t.Run("merges rapid writes into one flush", func(t *testing.T) {
		var mu sync.Mutex
		var flushes []map[string]any
		c := newCoalescer(20*time.Millisecond, func(p map[string]any) {
			mu.Lock()
			flushes = append(flushes, p)
			mu.Unlock()
		})

		c.Put("volume", 10)
		c.Put("volume", 20)

		time.Sleep(100 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(flushes) != 1 {
			t.Fatalf("flush count = %d, want 1", len(flushes))
		}
		if got := flushes[0]["volume"]; got != 20 {
			t.Errorf("volume = %v, want 20 (last write wins)", got)
		}
	})

	t.Run("Flush drains synchronously", func(t *testing.T) {
		var mu sync.Mutex
		var flushes []map[string]any
		c := newCoalescer(time.Hour, func(p map[string]any) {
			mu.Lock()
			flushes = append(flushes, p)
			mu.Unlock()
		})

		c.Put("paused", true)
		c.Flush()

		mu.Lock()
		defer mu.Unlock()
		if len(flushes) != 1 {
			t.Fatalf("flush count = %d, want 1", len(flushes))
		}
		if c.Pending() {
			t.Error("Pending() = true after Flush")
		}
	})

	t.Run("Flush with empty buffer does nothing", func(t *testing.T) {
		called := false
		c := newCoalescer(time.Hour, func(map[string]any) { called = true })

		c.Flush()
		if called {
			t.Error("flush callback invoked with empty buffer")
		}
	})

	t.Run("Close discards buffered changes", func(t *testing.T) {
		called := false
		c := newCoalescer(10*time.Millisecond, func(map[string]any) { called = true })

		c.Put("volume", 50)
		c.Close()
		time.Sleep(50 * time.Millisecond)

		if called {
			t.Error("flush fired after Close")
		}
		c.Put("volume", 60)
		if c.Pending() {
			t.Error("Put after Close buffered a change")
		}
	})
}
