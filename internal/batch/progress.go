package batch

import (
	"sync"
	"time"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// EventKind names a progress event.
type EventKind string

const (
	EventCaseStarted  EventKind = "case_started"
	EventStep         EventKind = "step"
	EventCaseFinished EventKind = "case_finished"
	EventRunFinished  EventKind = "run_finished"
)

// Event is one entry of the progress feed.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	UUID      string    `json:"uuid,omitempty"`
	Step      int       `json:"step,omitempty"`
	Action    string    `json:"action,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
}

// Feed is a thread-safe ring buffer of the last N progress events that
// also fans new events out to subscribers.
type Feed struct {
	mu          sync.RWMutex
	events      []Event
	maxEvents   int
	subscribers map[chan Event]struct{}
}

// NewFeed creates a feed that retains up to maxEvents events.
func NewFeed(maxEvents int) *Feed {
	if maxEvents < 1 {
		maxEvents = 1
	}
	return &Feed{
		events:      make([]Event, 0, maxEvents),
		maxEvents:   maxEvents,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Publish appends ev and broadcasts it to all subscribers.
func (f *Feed) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	f.mu.Lock()
	if len(f.events) >= f.maxEvents {
		f.events = f.events[1:]
	}
	f.events = append(f.events, ev)

	// Slow subscribers miss events rather than stall the run.
	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	f.mu.Unlock()
}

// Recent returns the last n events, oldest first.
func (f *Feed) Recent(n int) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	total := len(f.events)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Event, n)
	copy(out, f.events[total-n:])
	return out
}

// Subscribe returns a channel receiving new events. Call Unsubscribe when
// done.
func (f *Feed) Subscribe() chan Event {
	ch := make(chan Event, 64)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (f *Feed) Unsubscribe(ch chan Event) {
	f.mu.Lock()
	if _, ok := f.subscribers[ch]; ok {
		delete(f.subscribers, ch)
		close(ch)
	}
	f.mu.Unlock()
}

// StepHook publishes a reasoning step. It matches the runner's step
// callback.
func (f *Feed) StepHook(uuid string, step models.ReasoningStep) {
	f.Publish(Event{Kind: EventStep, UUID: uuid, Step: step.Step, Action: step.Action})
}
