// Package status holds the authoritative job status and the reconciler that
// is the only writer to it.
package status

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/models"
)

// Store keeps the current StatusSnapshot on two read paths.
//
// ReadAuthoritative is updated synchronously by every write and is what
// engine logic decides on. View is the value published to observers; it is
// updated one loop tick after the write, the same way a rendered UI lags its
// state. Writes are unexported: only the Reconciler in this package commits.
type Store struct {
	auth atomic.Pointer[models.StatusSnapshot]
	view atomic.Pointer[models.StatusSnapshot]

	sched  eventloop.Scheduler
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan models.StatusSnapshot
	nextID int
}

// NewStore creates a store in the idle state.
func NewStore(sched eventloop.Scheduler, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sched:  sched,
		logger: logger.With("component", "status_store"),
		subs:   make(map[int]chan models.StatusSnapshot),
	}
	idle := models.IdleSnapshot()
	s.auth.Store(&idle)
	s.view.Store(&idle)
	return s
}

// ReadAuthoritative returns the snapshot as of the last write, never a stale one.
func (s *Store) ReadAuthoritative() models.StatusSnapshot {
	return *s.auth.Load()
}

// View returns the snapshot most recently published to observers.
func (s *Store) View() models.StatusSnapshot {
	return *s.view.Load()
}

// Subscribe returns a channel receiving every published snapshot in commit
// order. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan models.StatusSnapshot, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan models.StatusSnapshot, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

// write replaces the snapshot and schedules publication to the view path.
func (s *Store) write(snap models.StatusSnapshot) {
	s.auth.Store(&snap)
	if !s.sched.Post(func() { s.publish(snap) }) {
		// Loop already gone: publish inline so View never stays behind forever.
		s.publish(snap)
	}
}

func (s *Store) publish(snap models.StatusSnapshot) {
	s.view.Store(&snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.logger.Warn("slow status subscriber, dropping snapshot", "subscriber", id, "status", snap.Status)
		}
	}
}

// closeSubscribers closes every subscription channel.
func (s *Store) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
