package netpolicy

import "fmt"

// ParseError represents an error parsing a network policy source file.
type ParseError struct {
	File  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("netpolicy: %s: %v", e.File, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
