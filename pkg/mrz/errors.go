package mrz

import (
	"errors"
	"fmt"
)

// ErrNoValidLines is returned when no line survives normalization.
var ErrNoValidLines = errors.New("no valid mrz lines found")

// UnsupportedLineCountError reports a usable line count that matches no known
// ICAO 9303 layout.
type UnsupportedLineCountError struct {
	Lines int
}

func (e *UnsupportedLineCountError) Error() string {
	return fmt.Sprintf("invalid mrz format: %d lines", e.Lines)
}
