package table

import (
	"errors"
	"fmt"
)

// ErrParse matches every ParseError through errors.Is.
var ErrParse = errors.New("parse error")

// ParseError reports input that is not valid JSON/CSV or cannot be shaped
// into a table.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s input: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) succeed for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErrorf(f Format, format string, args ...any) error {
	return &ParseError{Format: f, Err: fmt.Errorf(format, args...)}
}
