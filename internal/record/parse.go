package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse splits a clean line into temperature and humidity.
func Parse(line CleanLine) (Record, error) {
	fields := strings.Split(string(line), ",")
	if len(fields) != 2 {
		return Record{}, fmt.Errorf("%w: %d fields in %q", ErrMalformed, len(fields), line)
	}

	temperature, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: temperature %q", ErrNonNumeric, fields[0])
	}
	humidity, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: humidity %q", ErrNonNumeric, fields[1])
	}

	return Record{Temperature: temperature, Humidity: humidity}, nil
}
