package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus(t *testing.T) {
	t.Run("Delivers To Subscriber", func(t *testing.T) {
		bus := NewBus()
		ch, cancel := bus.Subscribe()
		defer cancel()

		bus.Emit(Event{Type: TrackStart, GuildID: "g1"})

		evt := recv(t, ch)
		if evt.Type != TrackStart || evt.GuildID != "g1" {
			t.Errorf("unexpected event %+v", evt)
		}
	})

	t.Run("Filters By Type", func(t *testing.T) {
		bus := NewBus()
		ch, cancel := bus.Subscribe(QueueEnd)
		defer cancel()

		bus.Emit(Event{Type: TrackStart})
		bus.Emit(Event{Type: QueueEnd, GuildID: "g2"})

		evt := recv(t, ch)
		if evt.Type != QueueEnd {
			t.Errorf("expected queue.end, got %s", evt.Type)
		}
	})

	t.Run("Emit Never Blocks", func(t *testing.T) {
		bus := NewBus()
		_, cancel := bus.Subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 1000; i++ {
				bus.Emit(Event{Type: Debug})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("emit blocked on a full subscriber")
		}
	})

	t.Run("Cancel Closes Channel", func(t *testing.T) {
		bus := NewBus()
		ch, cancel := bus.Subscribe()
		cancel()

		if _, ok := <-ch; ok {
			t.Error("expected channel to be closed after cancel")
		}

		cancel() // second cancel is a no-op
	})

	t.Run("Close Shuts Down All Subscribers", func(t *testing.T) {
		bus := NewBus()
		ch, _ := bus.Subscribe()
		bus.Close()

		if _, ok := <-ch; ok {
			t.Error("expected channel to be closed after bus close")
		}

		bus.Emit(Event{Type: Debug}) // ignored, must not panic
		bus.Close()                  // idempotent
	})
}
