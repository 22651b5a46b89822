package seriallink

import "errors"

var (
	// ErrLinkUnavailable reports that the link could not be opened or
	// prepared for reading. The caller is expected to back off and retry.
	ErrLinkUnavailable = errors.New("serial link unavailable")

	// ErrLinkFault reports an I/O failure on an open link.
	ErrLinkFault = errors.New("serial link fault")
)
