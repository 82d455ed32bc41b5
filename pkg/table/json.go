package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	jsoniter "github.com/json-iterator/go"
)

// KeySeparator joins nested object keys into a flat column name.
const KeySeparator = "."

// jsonAPI is shared by the loader and the writer. HTML escaping is off so
// strings round-trip byte for byte.
var jsonAPI = jsoniter.Config{EscapeHTML: false}.Froze()

var numberLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// LoadJSON parses a JSON object or an array of objects into a flat table.
// Nested objects become dotted column names; arrays are kept as leaf cells.
func LoadJSON(raw []byte) (*Table, error) {
	iter := jsonAPI.BorrowIterator(raw)
	defer jsonAPI.ReturnIterator(iter)

	t := New()
	var shapeErr error

	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		readObject(iter, t, t.AppendRow(), "")
	case jsoniter.ArrayValue:
		record := 0
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			if it.WhatIsNext() != jsoniter.ObjectValue {
				shapeErr = fmt.Errorf("record %d is not an object", record)
				return false
			}
			readObject(it, t, t.AppendRow(), "")
			record++
			return healthy(it)
		})
	default:
		if iter.Error == nil || iter.Error == io.EOF {
			return nil, parseErrorf(FormatJSON, "expected an object or an array of objects")
		}
	}

	if shapeErr != nil {
		return nil, &ParseError{Format: FormatJSON, Err: shapeErr}
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, &ParseError{Format: FormatJSON, Err: iter.Error}
	}
	if iter.Error == io.EOF {
		return nil, parseErrorf(FormatJSON, "unexpected end of input")
	}

	// Anything but whitespace after the top-level value is rejected.
	iter.WhatIsNext()
	if iter.Error != io.EOF {
		return nil, parseErrorf(FormatJSON, "unexpected data after top-level value")
	}

	for _, c := range t.Columns {
		c.Kind = classifyJSON(c)
	}
	return t, nil
}

func healthy(it *jsoniter.Iterator) bool {
	return it.Error == nil || it.Error == io.EOF
}

func readObject(iter *jsoniter.Iterator, t *Table, row int, prefix string) {
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		name := key
		if prefix != "" {
			name = prefix + KeySeparator + key
		}

		switch it.WhatIsNext() {
		case jsoniter.ObjectValue:
			readObject(it, t, row, name)
		case jsoniter.ArrayValue:
			raw := it.SkipAndReturnBytes()
			if !healthy(it) {
				return false
			}
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err != nil {
				it.ReportError("readObject", err.Error())
				return false
			}
			t.Set(row, name, Array(buf.String()))
		case jsoniter.StringValue:
			t.Set(row, name, String(it.ReadString()))
		case jsoniter.NumberValue:
			lit := string(it.ReadNumber())
			if !numberLiteral.MatchString(lit) {
				it.ReportError("readObject", "invalid number "+lit)
				return false
			}
			t.Set(row, name, Number(lit))
		case jsoniter.BoolValue:
			t.Set(row, name, Bool(it.ReadBool()))
		case jsoniter.NilValue:
			it.ReadNil()
			t.Set(row, name, Null)
		default:
			it.ReportError("readObject", "expected a value for key "+name)
			return false
		}
		return healthy(it)
	})
}

func classifyJSON(c *Column) Kind {
	nulls, numbers, bools, others := 0, 0, 0, 0
	for _, v := range c.Cells {
		switch v.Type {
		case TypeNull:
			nulls++
		case TypeNumber:
			numbers++
		case TypeBool:
			bools++
		default:
			others++
		}
	}
	switch {
	case others > 0:
		return KindText
	case numbers > 0 && bools == 0:
		// Nulls in a numeric column stay null.
		return KindNumeric
	case bools > 0 && numbers == 0 && nulls == 0:
		return KindBool
	default:
		// All null, booleans with gaps, or numbers mixed with booleans.
		return KindText
	}
}

// WriteJSON writes the table as a compact JSON array of row objects followed
// by a newline.
func WriteJSON(w io.Writer, t *Table) error {
	stream := jsonAPI.BorrowStream(w)
	defer jsonAPI.ReturnStream(stream)

	stream.WriteArrayStart()
	for i := 0; i < t.Rows(); i++ {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		for j, c := range t.Columns {
			if j > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(c.Name)
			writeValue(stream, c.Cells[i])
		}
		stream.WriteObjectEnd()

		if stream.Buffered() > 64*1024 {
			if err := stream.Flush(); err != nil {
				return fmt.Errorf("writing json: %w", err)
			}
		}
	}
	stream.WriteArrayEnd()
	stream.WriteRaw("\n")

	if err := stream.Flush(); err != nil {
		return fmt.Errorf("writing json: %w", err)
	}
	return nil
}

func writeValue(stream *jsoniter.Stream, v Value) {
	switch v.Type {
	case TypeNull:
		stream.WriteNil()
	case TypeString:
		stream.WriteString(v.Raw)
	default:
		// Numbers, booleans and arrays already hold valid JSON text.
		stream.WriteRaw(v.Raw)
	}
}
