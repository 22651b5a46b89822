package supervisor

import (
	"context"
	"errors"

	"github.com/banshee-data/sensorbridge/internal/record"
	"github.com/banshee-data/sensorbridge/internal/seriallink"
)

var (
	// ErrStale is recorded when no reading was accepted within the
	// watchdog timeout.
	ErrStale = errors.New("no valid reading within watchdog timeout")

	// ErrRestartLimit is returned by Run when MaxRestarts consecutive
	// pipeline restarts happened without an accepted reading.
	ErrRestartLimit = errors.New("pipeline restart limit reached")
)

// Reason classifies why a cycle did not end with an accepted reading.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonLinkUnavailable
	ReasonNullDominated
	ReasonEmpty
	ReasonMalformed
	ReasonNonNumeric
	ReasonStale
	ReasonUnclassified
)

var reasonNames = [...]string{
	ReasonNone:            "none",
	ReasonLinkUnavailable: "link_unavailable",
	ReasonNullDominated:   "null_dominated",
	ReasonEmpty:           "empty",
	ReasonMalformed:       "malformed",
	ReasonNonNumeric:      "non_numeric",
	ReasonStale:           "stale",
	ReasonUnclassified:    "unclassified",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// MarshalText renders the reason by name in JSON.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Recoverable reports whether the supervisor handles the reason with a link
// reset. Only unclassified failures escalate to a pipeline restart.
func (r Reason) Recoverable() bool {
	return r != ReasonUnclassified
}

// Classify maps an error from any pipeline stage onto a Reason.
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, seriallink.ErrLinkUnavailable):
		return ReasonLinkUnavailable
	case errors.Is(err, record.ErrNullDominated):
		return ReasonNullDominated
	case errors.Is(err, record.ErrEmpty):
		return ReasonEmpty
	case errors.Is(err, record.ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, record.ErrNonNumeric):
		return ReasonNonNumeric
	case errors.Is(err, ErrStale):
		return ReasonStale
	default:
		return ReasonUnclassified
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
