package collaboration

import (
	"context"
	"sync"
	"time"

	"collabd/internal/models"

	"go.uber.org/zap"
)

// DefaultSaveDebounce matches the editor's save delay: keystroke bursts
// inside this window collapse into one snapshot write.
const DefaultSaveDebounce = 850 * time.Millisecond

const saveTimeout = 10 * time.Second

// SnapshotSaver persists full-document snapshots on a debounce timer.
// Every Queue call re-arms the timer with the latest serialized content;
// when the timer fires, exactly one store write happens with whatever
// content was queued last. Status follows idle -> saving -> saved|error,
// with error sticky until the next successful save.
type SnapshotSaver struct {
	handle models.Handle
	store  DocumentStore
	delay  time.Duration
	logger *zap.Logger
	notify func(models.SaveStatus)

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	dirty   bool
	status  models.SaveStatus
	closed  bool
	saving  sync.WaitGroup
}

// NewSnapshotSaver creates a saver for one document handle. notify is
// invoked on every status transition and may be nil.
func NewSnapshotSaver(handle models.Handle, store DocumentStore, delay time.Duration, logger *zap.Logger, notify func(models.SaveStatus)) *SnapshotSaver {
	if delay <= 0 {
		delay = DefaultSaveDebounce
	}
	return &SnapshotSaver{
		handle: handle,
		store:  store,
		delay:  delay,
		logger: logger,
		notify: notify,
		status: models.SaveIdle,
	}
}

// Queue records the latest full content and re-arms the debounce timer.
func (s *SnapshotSaver) Queue(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = content
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

// Status returns the current save-status label.
func (s *SnapshotSaver) Status() models.SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Flush synchronously persists any pending content. The debounce timer
// is disarmed; a later Queue re-arms it.
func (s *SnapshotSaver) Flush() {
	s.drain()
}

// Close stops the timer and flushes any pending content synchronously.
// The timer is owned here so teardown can never leave a save firing
// against a stale handle.
func (s *SnapshotSaver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.drain()
}

func (s *SnapshotSaver) drain() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	flush := s.dirty
	content := s.pending
	s.dirty = false
	s.mu.Unlock()

	// Wait for an in-flight save before writing so writes stay ordered
	// per handle.
	s.saving.Wait()
	if flush {
		s.save(content)
	}
}

func (s *SnapshotSaver) fire() {
	s.mu.Lock()
	if s.closed || !s.dirty {
		s.mu.Unlock()
		return
	}
	content := s.pending
	s.dirty = false
	s.saving.Add(1)
	s.mu.Unlock()
	defer s.saving.Done()

	s.save(content)
}

func (s *SnapshotSaver) save(content string) {
	s.setStatus(models.SaveSaving)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.store.SaveSnapshot(ctx, s.handle, content); err != nil {
		s.logger.Warn("snapshot save failed",
			zap.String("handle", s.handle.String()),
			zap.Error(err))
		s.setStatus(models.SaveError)
		return
	}
	s.setStatus(models.SaveSaved)
}

func (s *SnapshotSaver) setStatus(status models.SaveStatus) {
	s.mu.Lock()
	s.status = status
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		notify(status)
	}
}
