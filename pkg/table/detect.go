package table

import (
	"strings"
	"unicode"
)

// Format is a supported input/output family.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Extension returns the file extension used for the format.
func (f Format) Extension() string { return "." + string(f) }

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Detect returns FormatJSON when the first non-whitespace character is '{' or
// '[', and FormatCSV otherwise.
func Detect(raw string) Format {
	trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return FormatJSON
	}
	return FormatCSV
}
