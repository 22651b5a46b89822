package record

import (
	"bytes"
	"strings"
)

// NullRatioLimit is the fraction of NULL bytes above which a frame is
// treated as line noise.
const NullRatioLimit = 0.8

// NullRatio returns the fraction of raw that is 0x00. An empty frame has a
// ratio of zero.
func NullRatio(raw []byte) float64 {
	if len(raw) == 0 {
		return 0
	}
	return float64(bytes.Count(raw, []byte{0})) / float64(len(raw))
}

// Clean sanitizes a raw frame. It returns ErrEmpty for an empty frame and
// ErrNullDominated when the NULL ratio exceeds NullRatioLimit. Otherwise the
// frame is decoded as UTF-8 with invalid sequences dropped, trimmed, and
// filtered down to the numeric alphabet. The returned line may be empty.
func Clean(raw []byte) (CleanLine, error) {
	if len(raw) == 0 {
		return "", ErrEmpty
	}
	if NullRatio(raw) > NullRatioLimit {
		return "", ErrNullDominated
	}

	text := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
	return CleanLine(strings.Map(keepNumeric, text)), nil
}

func keepNumeric(r rune) rune {
	switch {
	case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
		return r
	default:
		return -1
	}
}
