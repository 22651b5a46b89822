package supervisor

import (
	"maps"
	"time"

	"github.com/banshee-data/sensorbridge/internal/record"
)

// Phase is the supervisor's position in the ingestion cycle.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseReading
	PhaseAccepted
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseReading:
		return "reading"
	case PhaseAccepted:
		return "accepted"
	case PhaseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// LinkState describes the serial handle owned by the supervisor.
type LinkState int

const (
	LinkClosed LinkState = iota
	LinkOpen
	LinkFaulted
)

func (l LinkState) String() string {
	switch l {
	case LinkClosed:
		return "closed"
	case LinkOpen:
		return "open"
	case LinkFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

func (l LinkState) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Rejection describes the most recent cycle that did not accept a reading.
type Rejection struct {
	Reason Reason    `json:"reason"`
	Detail string    `json:"detail"`
	Raw    string    `json:"raw,omitempty"`
	At     time.Time `json:"at"`
}

// State is everything a pipeline restart throws away. It is owned by the
// Run goroutine and never shared; other goroutines see copies via Status.
type State struct {
	Generation int       `json:"generation"`
	StartedAt  time.Time `json:"started_at"`

	Cycles                  uint64            `json:"cycles"`
	Accepted                uint64            `json:"accepted"`
	Rejections              map[string]uint64 `json:"rejections"`
	ConsecutiveOpenFailures int               `json:"consecutive_open_failures"`
	ConsecutiveRejections   int               `json:"consecutive_rejections"`

	LastAcceptedAt time.Time      `json:"last_accepted_at"`
	LastRecord     *record.Record `json:"last_record,omitempty"`
	LastRejection  *Rejection     `json:"last_rejection,omitempty"`
}

func newState(generation int, now time.Time) State {
	return State{
		Generation: generation,
		StartedAt:  now,
		Rejections: make(map[string]uint64),
	}
}

func (s State) clone() State {
	c := s
	c.Rejections = maps.Clone(s.Rejections)
	if s.LastRecord != nil {
		rec := *s.LastRecord
		c.LastRecord = &rec
	}
	if s.LastRejection != nil {
		rej := *s.LastRejection
		c.LastRejection = &rej
	}
	return c
}

// Status is a point-in-time copy of the supervisor for admin routes.
type Status struct {
	State

	Phase               Phase     `json:"phase"`
	Link                LinkState `json:"link"`
	Restarts            uint64    `json:"restarts"`
	ConsecutiveRestarts int       `json:"consecutive_restarts"`
	MessageCount        uint64    `json:"message_count"`
}
