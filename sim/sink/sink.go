// Package sink persists simulation output. Sinks are invoked after
// generation; nothing in the simulation core blocks on them.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/checkout-sim/checkout-sim/sim"
)

// EventSink receives event records in batches.
type EventSink interface {
	Append(ctx context.Context, records []sim.EventRecord) error
	Close() error
}

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	f *os.File
	w *bufio.Writer
	n int
}

// CreateJSONL creates or truncates path.
func CreateJSONL(path string) (*JSONLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &JSONLSink{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes records in order.
func (s *JSONLSink) Append(ctx context.Context, records []sim.EventRecord) error {
	enc := json.NewEncoder(s.w)
	for i := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encoding record %d: %w", s.n, err)
		}
		s.n++
	}
	return nil
}

// Written returns the number of records appended so far.
func (s *JSONLSink) Written() int { return s.n }

// Close flushes and closes the file.
func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("flushing %s: %w", s.f.Name(), err)
	}
	return s.f.Close()
}

// ReadJSONL reads records written by JSONLSink.
func ReadJSONL(path string) ([]sim.EventRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return DecodeJSONL(f)
}

// DecodeJSONL decodes newline-delimited records from r.
func DecodeJSONL(r io.Reader) ([]sim.EventRecord, error) {
	dec := json.NewDecoder(r)
	var out []sim.EventRecord
	for {
		var rec sim.EventRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

var _ EventSink = (*JSONLSink)(nil)
