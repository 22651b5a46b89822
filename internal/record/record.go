// Package record turns raw serial frames from the sensor radio into validated
// temperature/humidity readings.
//
// A frame passes through two stages: Clean rejects frames that are empty or
// dominated by NULL bytes and strips everything except the numeric alphabet,
// then Parse splits the clean line into exactly two floating point fields.
// Each rejection is reported with one of the sentinel errors below so the
// caller can classify it with errors.Is.
package record

import "errors"

var (
	// ErrEmpty is returned for a frame with no bytes or no usable characters.
	ErrEmpty = errors.New("empty frame")
	// ErrNullDominated is returned when more than NullRatioLimit of a frame is
	// NULL bytes. It indicates a corrupted medium rather than a bad message.
	ErrNullDominated = errors.New("frame dominated by NULL bytes")
	// ErrMalformed is returned when a clean line does not hold exactly two
	// comma separated fields.
	ErrMalformed = errors.New("malformed record")
	// ErrNonNumeric is returned when a field does not parse as a float.
	ErrNonNumeric = errors.New("non-numeric field")
)

// CleanLine is sanitized frame text containing only digits, '.', ',' and '-'.
type CleanLine string

// Record is a single accepted sensor reading.
type Record struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}
