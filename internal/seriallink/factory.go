package seriallink

import (
	"errors"

	"go.bug.st/serial"
)

// OpenSerial opens a real serial port at path using the provided options.
func OpenSerial(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// describeOpenError adds the go.bug.st/serial error code to the message when
// one is available, so logs distinguish a missing device from a busy one.
func describeOpenError(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err.Error()
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return "port not found: " + portErr.Error()
	case serial.PortBusy:
		return "port busy: " + portErr.Error()
	case serial.PermissionDenied:
		return "permission denied: " + portErr.Error()
	default:
		return portErr.Error()
	}
}
