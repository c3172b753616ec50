package fetch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lychee-technology/ingest"
)

// Format decodes a response body.
type Format interface {
	Name() string
	Decode(body []byte) (any, error)
}

// JSONFormat decodes JSON documents, keeping numbers as json.Number.
type JSONFormat struct{}

func (JSONFormat) Name() string { return "json" }

func (JSONFormat) Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, ingest.NewDecodeError("json", err)
	}
	return out, nil
}

// TextFormat decodes CSV text with a header row into a frame. The first
// column is parsed as a date and becomes the frame index; other cells are
// numbers when they parse as such.
type TextFormat struct {
	Layouts []string
	Comma   rune
}

func (TextFormat) Name() string { return "text" }

func (f TextFormat) Decode(body []byte) (any, error) {
	r := csv.NewReader(bytes.NewReader(body))
	if f.Comma != 0 {
		r.Comma = f.Comma
	}
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return ingest.NewFrame(), nil
	}
	if err != nil {
		return nil, ingest.NewDecodeError("csv", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	frame := ingest.NewFrame(header...)
	frame.Index = header[:1]

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ingest.NewDecodeError("csv", err)
		}
		if len(rec) != len(header) {
			// provider footers such as a trailing total row
			continue
		}
		row := make([]any, len(rec))
		ts, err := ingest.ParseTime(rec[0], f.Layouts...)
		if err != nil {
			return nil, ingest.NewDecodeError("csv", fmt.Errorf("line %d: %w", line, err))
		}
		row[0] = ts
		for i := 1; i < len(rec); i++ {
			row[i] = parseCell(rec[i])
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
