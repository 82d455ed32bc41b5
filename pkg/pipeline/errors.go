package pipeline

import (
	"fmt"
	"io"
	"strings"
)

// UnexpectedError wraps failures that are not input parse errors, such as
// I/O errors on the input or output stream.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// ErrorPrefix starts every diagnostic line written by Report.
const ErrorPrefix = "Processing error: "

var lineFolder = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Message renders err as a single diagnostic line without the trailing
// newline. Line breaks inside the message are folded into spaces.
func Message(err error) string {
	return ErrorPrefix + lineFolder.Replace(err.Error())
}

// Report writes Message(err) as one line.
func Report(w io.Writer, err error) {
	fmt.Fprintln(w, Message(err))
}
