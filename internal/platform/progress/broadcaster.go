// Package progress delivers per-note processing updates to a single listener
// over server-sent events or a WebSocket.
package progress

import (
	"sync"
	"time"
)

// Status of a progress event.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// DefaultBuffer is the number of undelivered events held per subscription.
const DefaultBuffer = 16

// Event is one step of a note's processing. Events are not stored.
type Event struct {
	NoteID     string    `json:"note_id"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"totalSteps"`
	Message    string    `json:"message"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Terminal reports whether no more events follow for the note.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusError
}

// Subscription receives the events of one note. C is closed when the
// subscription is replaced or released.
type Subscription struct {
	NoteID string
	C      <-chan Event

	ch     chan Event
	closed bool
}

// Publisher is the sending half used by the processing pipeline.
type Publisher interface {
	Publish(noteID string, ev Event)
}

// Broadcaster maps each note to at most one live subscription.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
}

// NewBroadcaster returns a Broadcaster whose subscriptions buffer up to
// buffer events. A buffer of zero or less uses DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a listener for noteID, closing any previous one.
func (b *Broadcaster) Subscribe(noteID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{NoteID: noteID, C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[noteID]; ok {
		old.close()
	}
	b.subs[noteID] = sub
	return sub
}

// Unsubscribe releases sub if it is still the current listener for its note.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[sub.NoteID]; ok && cur == sub {
		delete(b.subs, sub.NoteID)
		sub.close()
	}
}

// Publish hands ev to the note's listener without blocking. The event is
// dropped when nobody listens or the listener's buffer is full.
func (b *Broadcaster) Publish(noteID string, ev Event) {
	if ev.NoteID == "" {
		ev.NoteID = noteID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[noteID]
	if !ok || sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
	default:
	}
}

// Subscribers returns the number of notes with a live listener.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// close must be called with the broadcaster's write lock held.
func (s *Subscription) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
