// Package linker correlates NVTX ranges, CUDA runtime calls, and GPU
// kernels through two interchangeable implementations (in-memory
// sweep-line and database-side SQL) that must agree on every linked set.
package linker

import "github.com/CedricHerzog/perfowl/internal/chrometrace"

// EventAdapter abstracts over the two event representations the sweep-line
// algorithms run against: a bare Chrome trace dict loaded back from JSON
// (ChromeTraceEventAdapter) and a ChromeTraceEvent built in-process during
// conversion (NsysTraceEventAdapter). Both key off the same `args` fields;
// they differ in where the timestamp/duration pair comes from.
type EventAdapter interface {
	// GetTimeRange returns the event's (start, end) bounds, or ok=false
	// when the event isn't a complete ("X") span or is missing a bound.
	// A zero-duration span (start == end) is valid.
	GetTimeRange(e chrometrace.ChromeTraceEvent) (start, end float64, ok bool)
	// GetCorrelationID returns the event's correlation id, or ok=false
	// when absent. An explicit zero is a valid, present correlation id.
	GetCorrelationID(e chrometrace.ChromeTraceEvent) (id int64, ok bool)
	// GetEventID returns the event-identity tuple used for dedup between
	// the CPU-side and GPU-timeline representations of the same span.
	GetEventID(e chrometrace.ChromeTraceEvent) EventKey
}

// EventKey is a comparable rendering of the (name, start_ns, deviceId,
// raw_tid) identity tuple. A missing component is represented by its
// pointer-free "present" flag so two events with different sets of known
// fields never compare equal.
type EventKey struct {
	Name        string
	StartNs     int64
	HasStartNs  bool
	DeviceID    int64
	HasDeviceID bool
	RawTid      int64
	HasRawTid   bool
}

// NsysTraceEventAdapter reads a ChromeTraceEvent built in-process: time
// range and correlation id come from `args.start_ns`/`args.end_ns` and
// `args.correlationId`, not from `ts`/`dur` (which are already
// microsecond-converted display values by the time the event exists).
type NsysTraceEventAdapter struct{}

func (NsysTraceEventAdapter) GetTimeRange(e chrometrace.ChromeTraceEvent) (float64, float64, bool) {
	if e.Ph != chrometrace.PhaseComplete {
		return 0, 0, false
	}
	start, ok := e.ArgInt("start_ns")
	if !ok {
		return 0, 0, false
	}
	end, ok := e.ArgInt("end_ns")
	if !ok {
		return 0, 0, false
	}
	return float64(start), float64(end), true
}

func (NsysTraceEventAdapter) GetCorrelationID(e chrometrace.ChromeTraceEvent) (int64, bool) {
	return e.ArgInt("correlationId")
}

func (NsysTraceEventAdapter) GetEventID(e chrometrace.ChromeTraceEvent) EventKey {
	key := EventKey{Name: e.Name}
	if v, ok := e.ArgInt("start_ns"); ok {
		key.StartNs, key.HasStartNs = v, true
	}
	if v, ok := e.ArgInt("deviceId"); ok {
		key.DeviceID, key.HasDeviceID = v, true
	}
	if v, ok := e.ArgInt("raw_tid"); ok {
		key.RawTid, key.HasRawTid = v, true
	}
	return key
}

// ChromeTraceEventAdapter reads a plain Chrome trace event as loaded back
// from a written JSON file: time range comes from `ts`/`dur` directly, and
// the correlation id is read from `args.correlation` first, falling back
// to `args.correlationId` (the first present field wins).
type ChromeTraceEventAdapter struct{}

func (ChromeTraceEventAdapter) GetTimeRange(e chrometrace.ChromeTraceEvent) (float64, float64, bool) {
	if e.Ph != chrometrace.PhaseComplete {
		return 0, 0, false
	}
	return e.Ts, e.Ts + e.Dur, true
}

func (ChromeTraceEventAdapter) GetCorrelationID(e chrometrace.ChromeTraceEvent) (int64, bool) {
	if id, ok := e.ArgInt("correlation"); ok {
		return id, true
	}
	return e.ArgInt("correlationId")
}

func (ChromeTraceEventAdapter) GetEventID(e chrometrace.ChromeTraceEvent) EventKey {
	key := EventKey{Name: e.Name, StartNs: int64(e.Ts), HasStartNs: true}
	return key
}
