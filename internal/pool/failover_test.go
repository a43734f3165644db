package pool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/tunelink/internal/events"
	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

func strptr(s string) *string { return &s }

func TestHandleNodeLoss(t *testing.T) {
	t.Run("re-homes a playing tenant to the next-best node", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		moveCh, cancelMove := bus.Subscribe(events.PlayerMove)
		defer cancelMove()
		resumeCh, cancelResume := bus.Subscribe(events.TrackResumed)
		defer cancelResume()

		p := newFakePool(bus, nil)
		engineA := fakeEngine("A", "", 1)
		engineB := fakeEngine("B", "", 2)
		p.addEngine(engineA)
		p.addEngine(engineB)

		pl, err := p.CreatePlayer("guild-1", "voice-1", "")
		if err != nil {
			t.Fatalf("CreatePlayer() error = %v", err)
		}

		// The platform delivers voice credentials and a track starts on A.
		pl.Conn().HandleStateUpdate(models.VoiceStateUpdate{ChannelID: strptr("voice-1"), SessionID: "sess-1"})
		pl.Conn().HandleServerUpdate(models.VoiceServerUpdate{Token: "tok", Endpoint: "us-west1.example.net:443"})
		if err := pl.Add(models.Track{Encoded: "enc-a", Info: models.TrackInfo{Identifier: "a"}}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if err := pl.Play(context.Background(), 0); err != nil {
			t.Fatalf("Play() error = %v", err)
		}

		// A reports playback progress before it dies; the re-home must
		// carry that position over instead of restarting from zero.
		progress, _ := json.Marshal(map[string]any{
			"op": "playerUpdate",
			"state": map[string]any{
				"time": time.Now().UnixMilli(), "position": 30000, "connected": true, "ping": 10,
			},
		})
		p.HandlePlayerFrame("A", "guild-1", progress)

		engineA.SetConnected(false)
		p.HandleNodeLoss("A")

		if got := pl.Engine().Name(); got != "B" {
			t.Fatalf("player engine after loss = %s, want B", got)
		}

		select {
		case evt := <-moveCh:
			if evt.Payload["from"] != "A" || evt.Payload["to"] != "B" {
				t.Errorf("move payload = %v", evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("no player.move event after re-home")
		}

		var resumed bool
		var voiceSeen bool
		var resumePos int64 = -1
		for _, u := range engineB.Updates() {
			if tr, ok := u.Payload["track"].(map[string]any); ok && tr["encoded"] == "enc-a" {
				resumed = true
				if pos, ok := u.Payload["position"].(int64); ok {
					resumePos = pos
				}
			}
			if _, ok := u.Payload["voice"]; ok {
				voiceSeen = true
			}
		}
		if !resumed {
			t.Errorf("replacement node never received the play command: %v", engineB.Updates())
		}
		if resumePos < 30000 {
			t.Errorf("resume position = %d, want >= 30000 (last known)", resumePos)
		}
		if !voiceSeen {
			t.Errorf("replacement node never received the voice payload: %v", engineB.Updates())
		}

		// The engine's first start frame after the re-home reports a
		// resumption, not a fresh start.
		frame, _ := json.Marshal(map[string]any{
			"op": "event", "type": "TrackStartEvent", "guildId": "guild-1",
			"track": models.Track{Encoded: "enc-a", Info: models.TrackInfo{Identifier: "a"}},
		})
		p.HandlePlayerFrame("B", "guild-1", frame)

		select {
		case <-resumeCh:
		case <-time.After(time.Second):
			t.Fatal("no track.resumed event after re-home")
		}
	})

	t.Run("exhausted failover raises an error event and queue.end", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		errCh, cancelErr := bus.Subscribe(events.NodeError)
		defer cancelErr()
		queueCh, cancelQueue := bus.Subscribe(events.QueueEnd)
		defer cancelQueue()

		p := newFakePool(bus, nil)
		engineA := fakeEngine("A", "", 1)
		p.addEngine(engineA)

		pl, err := p.CreatePlayer("guild-1", "voice-1", "")
		if err != nil {
			t.Fatalf("CreatePlayer() error = %v", err)
		}
		if err := pl.Add(models.Track{Encoded: "enc-a"}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if err := pl.Play(context.Background(), 0); err != nil {
			t.Fatalf("Play() error = %v", err)
		}

		engineA.SetConnected(false)
		p.HandleNodeLoss("A")

		select {
		case evt := <-errCh:
			if !errors.Is(evt.Err, shared.ErrFailoverExhausted) {
				t.Errorf("error event err = %v, want ErrFailoverExhausted", evt.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("no error event after exhausted failover")
		}
		select {
		case <-queueCh:
		case <-time.After(time.Second):
			t.Fatal("no queue.end event after exhausted failover")
		}

		if got := pl.Engine().Name(); got != "A" {
			t.Errorf("player engine = %s, want unchanged A", got)
		}
	})

	t.Run("loss of an unrelated node leaves players alone", func(t *testing.T) {
		p := newFakePool(nil, nil)
		engineA := fakeEngine("A", "", 1)
		p.addEngine(engineA)

		if _, err := p.CreatePlayer("guild-1", "voice-1", ""); err != nil {
			t.Fatalf("CreatePlayer() error = %v", err)
		}

		p.HandleNodeLoss("Z")

		pl, _ := p.Get("guild-1")
		if pl.Engine().Name() != "A" {
			t.Errorf("player engine = %s, want A", pl.Engine().Name())
		}
	})

	t.Run("duplicate loss notifications serialize and no-op", func(t *testing.T) {
		p := newFakePool(nil, nil)
		engineA := fakeEngine("A", "", 1)
		engineB := fakeEngine("B", "", 2)
		p.addEngine(engineA)
		p.addEngine(engineB)

		pl, err := p.CreatePlayer("guild-1", "voice-1", "")
		if err != nil {
			t.Fatalf("CreatePlayer() error = %v", err)
		}
		pl.Conn().HandleStateUpdate(models.VoiceStateUpdate{ChannelID: strptr("voice-1"), SessionID: "sess-1"})
		pl.Conn().HandleServerUpdate(models.VoiceServerUpdate{Token: "tok", Endpoint: "us-west1.example.net:443"})

		engineA.SetConnected(false)
		p.HandleNodeLoss("A")
		p.HandleNodeLoss("A")

		if got := pl.Engine().Name(); got != "B" {
			t.Errorf("player engine = %s, want B", got)
		}
	})
}
