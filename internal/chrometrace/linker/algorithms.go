package linker

import (
	"sort"

	"github.com/CedricHerzog/perfowl/internal/chrometrace"
)

// FindOverlappingIntervals returns, for each source event, the list of
// target events whose start falls within the source's [start, end)
// interval; a target's own end is not considered. Both event sets are read
// through the same adapter; events that are not complete spans (or whose
// time range the adapter can't resolve) are silently excluded from both
// sides. Source events with no overlapping targets are omitted from the
// result map entirely.
//
// This is the in-memory counterpart to the SQL linker's JOIN condition
// `target.start >= source.start AND target.start < source.end` — a sweep
// line over sorted target start times, since nsys exports are already
// ordered by start within a table.
func FindOverlappingIntervals(
	sourceEvents, targetEvents []chrometrace.ChromeTraceEvent,
	adapter EventAdapter,
) map[EventKey][]chrometrace.ChromeTraceEvent {
	type bound struct {
		start, end float64
		event      chrometrace.ChromeTraceEvent
	}

	var targets []bound
	for _, t := range targetEvents {
		start, end, ok := adapter.GetTimeRange(t)
		if !ok {
			continue
		}
		targets = append(targets, bound{start, end, t})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].start < targets[j].start })

	result := make(map[EventKey][]chrometrace.ChromeTraceEvent)
	for _, s := range sourceEvents {
		sStart, sEnd, ok := adapter.GetTimeRange(s)
		if !ok {
			continue
		}
		var matched []chrometrace.ChromeTraceEvent
		for _, t := range targets {
			if t.start >= sStart && t.start < sEnd {
				matched = append(matched, t.event)
			} else if t.start >= sEnd {
				break
			}
		}
		if len(matched) > 0 {
			result[adapter.GetEventID(s)] = matched
		}
	}
	return result
}

// BuildCorrelationMap groups events by correlation id, dropping any event
// that has none. Exactly mirrors the Python helper of the same name: a
// plain multimap, no ordering guarantee beyond input order preserved
// within a bucket.
func BuildCorrelationMap(events []chrometrace.ChromeTraceEvent, adapter EventAdapter) map[int64][]chrometrace.ChromeTraceEvent {
	m := make(map[int64][]chrometrace.ChromeTraceEvent)
	for _, e := range events {
		id, ok := adapter.GetCorrelationID(e)
		if !ok {
			continue
		}
		m[id] = append(m[id], e)
	}
	return m
}

// AggregateKernelTimes computes the convex hull [min-start, max-end) of a
// set of kernel spans. Returns ok=false for an empty slice or when none of
// the events is a complete span the adapter can read a time range from.
func AggregateKernelTimes(kernels []chrometrace.ChromeTraceEvent, adapter EventAdapter) (start, end float64, ok bool) {
	first := true
	for _, k := range kernels {
		s, e, valid := adapter.GetTimeRange(k)
		if !valid {
			continue
		}
		if first {
			start, end = s, e
			first = false
			continue
		}
		if s < start {
			start = s
		}
		if e > end {
			end = e
		}
	}
	return start, end, !first
}

// FindKernelsForAnnotation returns the flattened set of kernel events
// launched by any of the given (already overlap-filtered) CUDA API events,
// via the correlation map built over the kernel table. An API event
// without a resolvable correlation id, or whose correlation id has no
// kernels, contributes nothing.
func FindKernelsForAnnotation(
	overlappingAPIEvents []chrometrace.ChromeTraceEvent,
	correlationMap map[int64][]chrometrace.ChromeTraceEvent,
	adapter EventAdapter,
) []chrometrace.ChromeTraceEvent {
	var result []chrometrace.ChromeTraceEvent
	for _, api := range overlappingAPIEvents {
		id, ok := adapter.GetCorrelationID(api)
		if !ok {
			continue
		}
		kernels, ok := correlationMap[id]
		if !ok || len(kernels) == 0 {
			continue
		}
		result = append(result, kernels...)
	}
	return result
}
