package parser

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChromeProfile represents a Chrome Trace Event Format document: the same
// {"traceEvents": [...]} shape nsysconv emits and PyTorch/kineto exports
// produce, loaded here so both sides of this module share one decoder.
type ChromeProfile struct {
	Metadata    ChromeMetadata `json:"metadata"`
	TraceEvents []ChromeEvent  `json:"traceEvents"`
}

// ChromeMetadata contains profile metadata
type ChromeMetadata struct {
	EnhancedTraceVersion int     `json:"enhancedTraceVersion"`
	Source               string  `json:"source"`
	StartTime            string  `json:"startTime"`
	DataOrigin           string  `json:"dataOrigin"`
	HostDPR              float64 `json:"hostDPR"`
	SourceMaps           []any   `json:"sourceMaps"`
	Resources            []any   `json:"resources"`
	Modifications        any     `json:"modifications"` // Can be object or array
}

// ChromeEvent represents a single trace event. Pid/Tid are `any` rather than
// int: nsysconv emits human-readable process/thread labels ("Device 0",
// "Stream 7", "Process 3"), while other producers such as PyTorch/kineto
// exports use numeric pids/tids, and this type has to decode both. Numeric
// values decode as float64.
type ChromeEvent struct {
	Name  string         `json:"name"`            // Event name
	Cat   string         `json:"cat"`             // Category (comma-separated)
	Ph    string         `json:"ph"`              // Phase: B/E/X/M/I/P/etc.
	Ts    float64        `json:"ts"`              // Timestamp (microseconds)
	Dur   float64        `json:"dur,omitempty"`   // Duration (for X events, microseconds)
	TDur  float64        `json:"tdur,omitempty"`  // Thread clock duration
	Pid   any            `json:"pid"`             // Process ID
	Tid   any            `json:"tid"`             // Thread ID
	Tts   float64        `json:"tts,omitempty"`   // Thread timestamp
	Args  map[string]any `json:"args,omitempty"`  // Event-specific data
	ID    any            `json:"id,omitempty"`    // Event ID (for async events, can be string or number)
	Scope string         `json:"scope,omitempty"` // Event scope
	Bp    string         `json:"bp,omitempty"`    // Bind point
	CName string         `json:"cname,omitempty"` // Named color for the viewer
}

// Chrome event phase constants
const (
	PhaseBegin      = "B" // Duration event begin
	PhaseEnd        = "E" // Duration event end
	PhaseDuration   = "X" // Complete duration event
	PhaseMetadata   = "M" // Metadata event
	PhaseInstant    = "I" // Instant event
	PhaseCounter    = "C" // Counter event
	PhaseAsyncStart = "S" // Async event start (deprecated, use b)
	PhaseAsyncEnd   = "F" // Async event end (deprecated, use e)
	PhaseAsyncBegin = "b" // Async nestable begin
	PhaseAsyncEnd2  = "e" // Async nestable end
	PhaseAsyncStep  = "n" // Async nestable step
	PhaseFlowStart  = "s" // Flow event start
	PhaseFlowEnd    = "f" // Flow event end
	PhaseSample     = "P" // Sample event
	PhaseObject     = "O" // Object snapshot
	PhaseCreate     = "N" // Object created
	PhaseDestroy    = "D" // Object destroyed
	PhaseMark       = "R" // Mark event
)

// ThreadNameArgs represents args for thread_name metadata events
type ThreadNameArgs struct {
	Name string `json:"name"`
}

// ProcessNameArgs represents args for process_name metadata events
type ProcessNameArgs struct {
	Name string `json:"name"`
}

// LoadChromeProfile loads a Chrome Trace Event Format document from disk,
// transparently decompressing it when the path ends in .gz/.gzip.
func LoadChromeProfile(path string) (*ChromeProfile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".gz" || ext == ".gzip" {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	var profile ChromeProfile
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode Chrome profile JSON: %w", err)
	}

	return &profile, nil
}
