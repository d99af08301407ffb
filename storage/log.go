package storage

import (
	"slices"
	"sync"
	"sync/atomic"

	"prism-events/domain"
)

// Log is an in-memory, append-only event log. Writers are serialized; readers
// load the last published header and never wait on a writer. The zero value is
// an empty log ready for use.
type Log struct {
	mu     sync.Mutex
	events atomic.Pointer[[]domain.Event]
}

// NewLog returns an empty log.
func NewLog() *Log {
	l := &Log{}
	empty := make([]domain.Event, 0, 64)
	l.events.Store(&empty)
	return l
}

// Submit appends the event when it carries a name and silently drops it
// otherwise.
func (l *Log) Submit(ev domain.Event) {
	if ev.Name == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Slots past the published length belong to the writer holding mu, so an
	// in-place append is never visible through an older snapshot.
	next := append(l.snapshot(), ev)
	l.events.Store(&next)
}

// History returns a copy of the events accepted so far, in arrival order.
func (l *Log) History() []domain.Event {
	return slices.Clone(l.snapshot())
}

// Len reports the number of accepted events, which is also the sequence
// position the next accepted event will take.
func (l *Log) Len() int {
	return len(l.snapshot())
}

func (l *Log) snapshot() []domain.Event {
	if p := l.events.Load(); p != nil {
		return *p
	}
	return []domain.Event{}
}
