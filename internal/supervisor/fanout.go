package supervisor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorbridge/internal/record"
)

// EventKind names what an Event reports.
type EventKind string

const (
	EventAccepted EventKind = "accepted"
	EventRejected EventKind = "rejected"
	EventRestart  EventKind = "restart"
)

// Event is streamed to subscribers for each cycle outcome.
type Event struct {
	Time       time.Time      `json:"time"`
	Generation int            `json:"generation"`
	Kind       EventKind      `json:"kind"`
	Reason     Reason         `json:"reason,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Raw        string         `json:"raw,omitempty"`
	Record     *record.Record `json:"record,omitempty"`
}

const subscriberBuffer = 16

// fanout tracks subscribers so their channels can be deterministically
// closed on unsubscribe or shutdown, letting readers unblock predictably.
type fanout struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closing     bool
}

func newFanout() *fanout {
	return &fanout{subscribers: make(map[string]chan Event)}
}

func (f *fanout) subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

func (f *fanout) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *fanout) broadcast(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- e:
		default:
			// if the channel is full skip so as not to block ingestion
		}
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}
