// Package events records pipeline progress and fans it out to listeners.
package events

import (
	"sync"
	"time"
)

// Event kinds.
const (
	KindState   = "state"   // orchestrator entered a new state
	KindTask    = "task"    // one translate or synthesize task finished
	KindFailure = "failure" // run failed
)

// Event is one pipeline progress record.
type Event struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id"`
	Kind    string    `json:"kind"`
	Stage   string    `json:"stage"`
	Lang    string    `json:"lang,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Sink receives events.
type Sink interface {
	Publish(event Event)
}

// Store keeps the most recent events in memory and offers them on a channel.
type Store struct {
	mu      sync.RWMutex
	entries []Event
	maxSize int
	ch      chan Event
	dropped int
}

// NewStore creates a store holding up to maxEntries events with a
// listener buffer of eventBuffer.
func NewStore(maxEntries, eventBuffer int) *Store {
	return &Store{
		entries: make([]Event, 0, maxEntries),
		maxSize: maxEntries,
		ch:      make(chan Event, eventBuffer),
	}
}

// Publish stamps, stores and emits an event. It never blocks: when the
// listener buffer is full the event is kept in history only.
func (s *Store) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	s.mu.Lock()
	s.entries = append(s.entries, event)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	select {
	case s.ch <- event:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Events returns the listener channel.
func (s *Store) Events() <-chan Event {
	return s.ch
}

// Recent returns up to n of the newest events, oldest first. n <= 0 returns all.
func (s *Store) Recent(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.entries) {
		start = len(s.entries) - n
	}
	out := make([]Event, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// ForRun returns the stored events of one run, oldest first.
func (s *Store) ForRun(runID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Dropped returns how many events missed the listener channel.
func (s *Store) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}
