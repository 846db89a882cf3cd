package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"collabd/internal/models"
	"collabd/internal/repository"

	"github.com/google/uuid"
)

// fakeStore is an in-memory DocumentStore that records snapshot writes
// and can be told to fail or stall them.
type fakeStore struct {
	mu          sync.Mutex
	docs        map[string]*models.Document
	saves       []string
	fail        bool
	saveStarted chan struct{}
	saveRelease chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*models.Document)}
}

func (f *fakeStore) Get(ctx context.Context, h models.Handle) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[h.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, h)
	}
	return doc, nil
}

func (f *fakeStore) seed(doc *models.Document) {
	f.mu.Lock()
	f.docs[doc.ID] = doc
	f.mu.Unlock()
}

func (f *fakeStore) EnsureFile(ctx context.Context, fileID, workspaceID, folderID string) (*models.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[fileID]; ok {
		return doc, false, nil
	}
	doc := &models.Document{Kind: models.HandleFile, ID: fileID, Title: "Untitled"}
	f.docs[fileID] = doc
	return doc, true, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, h models.Handle, data string) error {
	f.mu.Lock()
	started := f.saveStarted
	release := f.saveRelease
	f.saveStarted, f.saveRelease = nil, nil
	f.mu.Unlock()
	if started != nil {
		close(started)
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("simulated network error")
	}
	f.saves = append(f.saves, data)
	if doc, ok := f.docs[h.ID]; ok {
		doc.Data = data
	}
	return nil
}

// blockNextSave makes the next SaveSnapshot signal entry and then wait
// for release, so a test can observe state while a write is in flight.
func (f *fakeStore) blockNextSave() (started <-chan struct{}, release func()) {
	begin := make(chan struct{})
	done := make(chan struct{})
	f.mu.Lock()
	f.saveStarted = begin
	f.saveRelease = done
	f.mu.Unlock()
	return begin, func() { close(done) }
}

func (f *fakeStore) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeStore) snapshotWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.saves))
	copy(out, f.saves)
	return out
}

// fakePresence is an in-memory PresenceRegistry.
type fakePresence struct {
	mu    sync.Mutex
	peers map[string]map[string]models.Presence
}

func newFakePresence() *fakePresence {
	return &fakePresence{peers: make(map[string]map[string]models.Presence)}
}

func (f *fakePresence) Track(ctx context.Context, fileID string, p models.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peers[fileID] == nil {
		f.peers[fileID] = make(map[string]models.Presence)
	}
	f.peers[fileID][p.ID] = p
	return nil
}

func (f *fakePresence) Untrack(ctx context.Context, fileID, peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers[fileID], peerID)
	return nil
}

func (f *fakePresence) State(ctx context.Context, fileID string) ([]models.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Presence, 0, len(f.peers[fileID]))
	for _, p := range f.peers[fileID] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePresence) tracked(fileID, peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.peers[fileID][peerID]
	return ok
}

func testHandle() models.Handle {
	return models.Handle{Kind: models.HandleFile, ID: uuid.NewString()}
}

// waitForEvent drains a session's send buffer until a frame of the wanted
// type arrives.
func waitForEvent(t *testing.T, send <-chan []byte, want models.EventType) models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-send:
			if !ok {
				t.Fatalf("send channel closed while waiting for %s", want)
			}
			var envelope models.Envelope
			if err := json.Unmarshal(frame, &envelope); err != nil {
				t.Fatalf("received unparseable frame: %v", err)
			}
			if envelope.Type == want {
				return envelope
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

// expectNoEvent asserts no frame of the given type arrives inside the
// window.
func expectNoEvent(t *testing.T, send <-chan []byte, unwanted models.EventType, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case frame, ok := <-send:
			if !ok {
				return
			}
			var envelope models.Envelope
			if err := json.Unmarshal(frame, &envelope); err != nil {
				t.Fatalf("received unparseable frame: %v", err)
			}
			if envelope.Type == unwanted {
				t.Fatalf("received unexpected %s event", unwanted)
			}
		case <-deadline:
			return
		}
	}
}
