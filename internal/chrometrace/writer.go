package chrometrace

import (
	"encoding/json"
	"fmt"
	"io"
)

// StreamingWriter emits a Chrome trace's "traceEvents" array one event at
// a time, without ever holding the full event set in memory. The comma
// bookkeeping is a two-state machine: the first Write call omits the
// leading comma, every subsequent call emits one.
//
// Close is mandatory on every path — it is the only thing that produces
// the closing `]}` — so callers must defer it immediately after Open
// succeeds, matching the scoped-resource idiom `internal/parser` uses for
// its gzip readers.
type StreamingWriter struct {
	w           io.Writer
	encoder     *json.Encoder
	firstEvent  bool
	closed      bool
}

// NewStreamingWriter opens a writer over w, immediately emitting the
// `{"traceEvents":[` preamble.
func NewStreamingWriter(w io.Writer) (*StreamingWriter, error) {
	if _, err := io.WriteString(w, `{"traceEvents":[`); err != nil {
		return nil, fmt.Errorf("writing trace preamble: %w", err)
	}
	return &StreamingWriter{w: w, encoder: json.NewEncoder(w), firstEvent: true}, nil
}

// WriteEvent appends one event in compact form: json.Marshal output with
// no indentation and no trailing newline, preceded by a comma for every
// event after the first.
func (s *StreamingWriter) WriteEvent(e ChromeTraceEvent) error {
	if s.closed {
		return fmt.Errorf("write on closed StreamingWriter")
	}
	if !s.firstEvent {
		if _, err := io.WriteString(s.w, ","); err != nil {
			return fmt.Errorf("writing event separator: %w", err)
		}
	}
	s.firstEvent = false
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event %q: %w", e.Name, err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// WriteEvents drains sink-style iteration through WriteEvent and returns
// the count written.
func (s *StreamingWriter) WriteEvents(events []ChromeTraceEvent) (int, error) {
	for i, e := range events {
		if err := s.WriteEvent(e); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// Close emits the closing `]}`. Safe to call more than once; only the
// first call writes anything. Must run on every path, success or error.
func (s *StreamingWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := io.WriteString(s.w, "]}"); err != nil {
		return fmt.Errorf("writing trace epilogue: %w", err)
	}
	return nil
}
