package collaboration

import (
	"encoding/json"
	"testing"
	"time"

	"collabd/internal/models"
	"collabd/internal/quill"

	"go.uber.org/zap"
)

func newTestHub(t *testing.T, store *fakeStore, presence *fakePresence) *Hub {
	t.Helper()
	hub := NewHub(store, presence, zap.NewNop(), HubOptions{
		SaveDebounce: 20 * time.Millisecond,
	})
	hub.Start()
	t.Cleanup(hub.Shutdown)
	return hub
}

func subscribePeer(hub *Hub, handle models.Handle, peerID string, initial quill.Delta) *Session {
	peer := models.Presence{ID: peerID, Email: peerID + "@test.dev"}
	session := NewSession(handle, peer, nil, hub, zap.NewNop())
	hub.Subscribe(session, initial)
	return session
}

func deltaFrame(t *testing.T, fileID, delta string) (models.DeltaEvent, []byte) {
	t.Helper()
	event := models.DeltaEvent{Delta: json.RawMessage(delta), FileID: fileID}
	frame, err := models.MarshalEvent(models.EventDelta, event)
	if err != nil {
		t.Fatalf("building delta frame: %v", err)
	}
	return event, frame
}

func TestDeltaReachesPeersWithoutEcho(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(t, store, newFakePresence())
	handle := testHandle()

	peerA := subscribePeer(hub, handle, "peer-a", quill.Delta{})
	peerB := subscribePeer(hub, handle, "peer-b", quill.Delta{})

	event, frame := deltaFrame(t, handle.ID, `{"ops":[{"insert":"hi"}]}`)
	hub.HandleDelta(peerA, event, frame)

	received := waitForEvent(t, peerB.Send, models.EventDelta)
	var got models.DeltaEvent
	if err := json.Unmarshal(received.Payload, &got); err != nil {
		t.Fatalf("unmarshal delta payload: %v", err)
	}
	if got.FileID != handle.ID {
		t.Errorf("expected fileId %s, got %s", handle.ID, got.FileID)
	}

	// The sender never sees its own delta back.
	expectNoEvent(t, peerA.Send, models.EventDelta, 100*time.Millisecond)
}

func TestDeltaForForeignHandleIsDropped(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(t, store, newFakePresence())
	handle := testHandle()
	other := testHandle()

	peerA := subscribePeer(hub, handle, "peer-a", quill.Delta{})
	peerB := subscribePeer(hub, handle, "peer-b", quill.Delta{})

	event, frame := deltaFrame(t, other.ID, `{"ops":[{"insert":"bleed"}]}`)
	hub.HandleDelta(peerA, event, frame)

	expectNoEvent(t, peerB.Send, models.EventDelta, 100*time.Millisecond)

	// Room state is untouched.
	content, ok := hub.Content(handle.ID)
	if !ok {
		t.Fatal("expected live room")
	}
	if content.Text() != "" {
		t.Errorf("expected unmutated content, got %q", content.Text())
	}
}

func TestCursorRelayGuardsHandle(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(t, store, newFakePresence())
	handle := testHandle()

	peerA := subscribePeer(hub, handle, "peer-a", quill.Delta{})
	peerB := subscribePeer(hub, handle, "peer-b", quill.Delta{})

	event := models.CursorEvent{
		Range:    models.CursorRange{Index: 3, Length: 2},
		FileID:   handle.ID,
		CursorID: "peer-a",
	}
	frame, err := models.MarshalEvent(models.EventCursor, event)
	if err != nil {
		t.Fatalf("building cursor frame: %v", err)
	}
	hub.HandleCursor(peerA, event, frame)

	received := waitForEvent(t, peerB.Send, models.EventCursor)
	var got models.CursorEvent
	if err := json.Unmarshal(received.Payload, &got); err != nil {
		t.Fatalf("unmarshal cursor payload: %v", err)
	}
	if got.CursorID != "peer-a" || got.Range.Index != 3 {
		t.Errorf("unexpected cursor event: %+v", got)
	}

	// Foreign handle version is dropped.
	foreign := event
	foreign.FileID = testHandle().ID
	hub.HandleCursor(peerA, foreign, frame)
	expectNoEvent(t, peerA.Send, models.EventCursor, 100*time.Millisecond)
}

func TestPresenceTrackedBeforeAnyBroadcast(t *testing.T) {
	store := newFakeStore()
	presence := newFakePresence()
	hub := newTestHub(t, store, presence)
	handle := testHandle()

	session := subscribePeer(hub, handle, "peer-a", quill.Delta{})

	// Subscribe returns only after the registry knows the peer, so by the
	// time the pumps could broadcast anything the track already happened.
	if !presence.tracked(handle.ID, "peer-a") {
		t.Fatal("expected peer tracked during subscribe")
	}

	sync := waitForEvent(t, session.Send, models.EventPresence)
	var got models.PresenceEvent
	if err := json.Unmarshal(sync.Payload, &got); err != nil {
		t.Fatalf("unmarshal presence payload: %v", err)
	}
}

func TestPresenceSyncListsRemotePeers(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(t, store, newFakePresence())
	handle := testHandle()

	subscribePeer(hub, handle, "peer-a", quill.Delta{})
	peerB := subscribePeer(hub, handle, "peer-b", quill.Delta{})

	// After the second join every session receives a sync whose peer list
	// includes the remote peer, which is what drives cursor overlays.
	deadline := time.After(2 * time.Second)
	for {
		envelope := waitForEvent(t, peerB.Send, models.EventPresence)
		var event models.PresenceEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			t.Fatalf("unmarshal presence payload: %v", err)
		}
		if event.Kind == models.PresenceSync && len(event.Peers) == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("never received sync listing both peers")
		default:
		}
	}
}

func TestDeltaComposesAndPersists(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(t, store, newFakePresence())
	handle := testHandle()

	initial, err := quill.Parse([]byte(`{"ops":[{"insert":"hello"}]}`))
	if err != nil {
		t.Fatalf("parse initial: %v", err)
	}
	peerA := subscribePeer(hub, handle, "peer-a", initial)

	event, frame := deltaFrame(t, handle.ID, `{"ops":[{"retain":5},{"insert":" world"}]}`)
	hub.HandleDelta(peerA, event, frame)

	content, ok := hub.Content(handle.ID)
	if !ok {
		t.Fatal("expected live room")
	}
	if content.Text() != "hello world" {
		t.Errorf("expected composed content, got %q", content.Text())
	}

	// The debounced saver persists the full composed snapshot.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.snapshotWrites()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	writes := store.snapshotWrites()
	if len(writes) != 1 {
		t.Fatalf("expected one snapshot write, got %d", len(writes))
	}
	persisted, err := quill.Parse([]byte(writes[0]))
	if err != nil {
		t.Fatalf("persisted snapshot does not parse: %v", err)
	}
	if persisted.Text() != "hello world" {
		t.Errorf("expected full snapshot persisted, got %q", persisted.Text())
	}
}

func TestUnsubscribeTearsDownEmptyRoom(t *testing.T) {
	store := newFakeStore()
	presence := newFakePresence()
	hub := newTestHub(t, store, presence)
	handle := testHandle()

	session := subscribePeer(hub, handle, "peer-a", quill.Delta{})

	// Leave a pending edit behind; teardown must flush it.
	event, frame := deltaFrame(t, handle.ID, `{"ops":[{"insert":"bye"}]}`)
	hub.HandleDelta(session, event, frame)

	hub.Unsubscribe(session)

	if presence.tracked(handle.ID, "peer-a") {
		t.Error("expected peer untracked after unsubscribe")
	}
	if _, ok := hub.Content(handle.ID); ok {
		t.Error("expected room removed once empty")
	}
	writes := store.snapshotWrites()
	if len(writes) != 1 {
		t.Fatalf("expected teardown flush, got %d writes", len(writes))
	}

	// A second unsubscribe is harmless.
	hub.Unsubscribe(session)
}

func TestRoomStaysJoinableDuringTeardownFlush(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(t, store, newFakePresence())
	handle := testHandle()

	peerA := subscribePeer(hub, handle, "peer-a", quill.Delta{})
	event, frame := deltaFrame(t, handle.ID, `{"ops":[{"insert":"draft"}]}`)
	hub.HandleDelta(peerA, event, frame)

	started, release := store.blockNextSave()
	done := make(chan struct{})
	go func() {
		hub.Unsubscribe(peerA)
		close(done)
	}()
	<-started

	// The flush is in flight but the room is still registered, so a peer
	// arriving now joins the live content instead of re-reading a row the
	// flush has not reached yet.
	content, ok := hub.Content(handle.ID)
	if !ok {
		t.Fatal("expected room registered while flush is in flight")
	}
	if content.Text() != "draft" {
		t.Errorf("expected live content, got %q", content.Text())
	}
	peerB := subscribePeer(hub, handle, "peer-b", quill.Delta{})

	release()
	<-done

	// The re-joined peer kept the room alive with its saver intact.
	if got := len(hub.Sessions(handle.ID)); got != 1 {
		t.Fatalf("expected one live session, got %d", got)
	}
	writes := store.snapshotWrites()
	if len(writes) != 1 {
		t.Fatalf("expected the teardown flush, got %d writes", len(writes))
	}

	event, frame = deltaFrame(t, handle.ID, `{"ops":[{"retain":5},{"insert":"!"}]}`)
	hub.HandleDelta(peerB, event, frame)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.snapshotWrites()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	writes = store.snapshotWrites()
	if len(writes) != 2 {
		t.Fatalf("expected the saver still armed after the flush, got %d writes", len(writes))
	}
	persisted, err := quill.Parse([]byte(writes[1]))
	if err != nil {
		t.Fatalf("persisted snapshot does not parse: %v", err)
	}
	if persisted.Text() != "draft!" {
		t.Errorf("expected composed content persisted, got %q", persisted.Text())
	}
}
