package chrometrace

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// EventSink receives one decoded event at a time. Parsers are lazy: a row
// is read, decoded, and handed to the sink before the next row is read, so
// callers that only need a running total never hold the whole table in
// memory.
type EventSink func(ChromeTraceEvent) error

// CollectCategory drains a parser into a slice, for the linker code paths
// that require random access across the whole category (sweep-line
// overlap detection cannot work off a single forward pass).
func CollectCategory(parse func(EventSink) error) ([]ChromeTraceEvent, error) {
	var events []ChromeTraceEvent
	err := parse(func(e ChromeTraceEvent) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

// ParseKernel streams CUPTI_ACTIVITY_KIND_KERNEL rows. Absence of the
// table produces an empty stream, never an error.
func ParseKernel(ctx context.Context, db *sql.DB, sink EventSink) error {
	if !TableExists(ctx, db, "CUPTI_ACTIVITY_KIND_KERNEL") {
		logrus.Debug("CUPTI_ACTIVITY_KIND_KERNEL not present, kernel category unavailable")
		return nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT start, end, deviceId, streamId, correlationId
		FROM CUPTI_ACTIVITY_KIND_KERNEL
		ORDER BY start`)
	if err != nil {
		logrus.WithError(err).Warn("failed to query CUPTI_ACTIVITY_KIND_KERNEL")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var start, end, deviceID, streamID, correlationID int64
		if err := rows.Scan(&start, &end, &deviceID, &streamID, &correlationID); err != nil {
			logrus.WithError(err).Warn("failed to decode kernel row")
			continue
		}
		event := ChromeTraceEvent{
			Name: "kernel",
			Ph:   PhaseComplete,
			Cat:  CatKernel,
			Ts:   NsToUs(start),
			Dur:  NsToUs(end - start),
			Pid:  DevicePid(deviceID),
			Tid:  fmt.Sprintf("Stream %d", streamID),
			Args: map[string]any{
				"correlationId": correlationID,
				"deviceId":      deviceID,
				"start_ns":      start,
				"end_ns":        end,
			},
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating kernel rows")
	}
	return nil
}

// ParseCudaAPI streams CUPTI_ACTIVITY_KIND_RUNTIME rows.
func ParseCudaAPI(ctx context.Context, db *sql.DB, strings map[int64]string,
	deviceMap map[int64]int64, sink EventSink) error {
	if !TableExists(ctx, db, "CUPTI_ACTIVITY_KIND_RUNTIME") {
		logrus.Debug("CUPTI_ACTIVITY_KIND_RUNTIME not present, cuda-api category unavailable")
		return nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT start, end, globalTid, nameId, correlationId
		FROM CUPTI_ACTIVITY_KIND_RUNTIME
		ORDER BY start`)
	if err != nil {
		logrus.WithError(err).Warn("failed to query CUPTI_ACTIVITY_KIND_RUNTIME")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var start, end, globalTid, nameID, correlationID int64
		if err := rows.Scan(&start, &end, &globalTid, &nameID, &correlationID); err != nil {
			logrus.WithError(err).Warn("failed to decode cuda-api row")
			continue
		}
		pid, tid := DecomposeGlobalTid(globalTid)
		pidDisplay := ProcessDisplayName(pid)
		if deviceID, ok := deviceMap[pid]; ok {
			pidDisplay = DevicePid(deviceID)
		}
		event := ChromeTraceEvent{
			Name: ResolveString(strings, nameID, "Unknown CUDA API"),
			Ph:   PhaseComplete,
			Cat:  CatCudaAPI,
			Ts:   NsToUs(start),
			Dur:  NsToUs(end - start),
			Pid:  pidDisplay,
			Tid:  fmt.Sprintf("CUDA API Thread %d", tid),
			Args: map[string]any{
				"correlationId": correlationID,
				"deviceId":      pid,
				"start_ns":      start,
				"end_ns":        end,
			},
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating cuda-api rows")
	}
	return nil
}

const noNameText = "[No name]"

// ParseNVTX streams NVTX_EVENTS rows filtered to push/pop ranges
// (eventType=59). Instant marks and start/end pairs are out of scope.
func ParseNVTX(ctx context.Context, db *sql.DB, strings map[int64]string,
	opts ConversionOptions, sink EventSink) error {
	if !TableExists(ctx, db, "NVTX_EVENTS") {
		logrus.Debug("NVTX_EVENTS not present, nvtx category unavailable")
		return nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT start, end, textId, text, globalTid, eventType
		FROM NVTX_EVENTS
		WHERE eventType = ?
		ORDER BY start`, NVTXPushPopEventType)
	if err != nil {
		logrus.WithError(err).Warn("failed to query NVTX_EVENTS")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var start, end, globalTid, eventType int64
		var textID sql.NullInt64
		var text sql.NullString
		if err := rows.Scan(&start, &end, &textID, &text, &globalTid, &eventType); err != nil {
			logrus.WithError(err).Warn("failed to decode nvtx row")
			continue
		}
		name := noNameText
		if textID.Valid {
			if v, ok := strings[textID.Int64]; ok {
				name = v
			} else if text.Valid && text.String != "" {
				name = text.String
			}
		} else if text.Valid && text.String != "" {
			name = text.String
		}

		if opts.NVTXEventPrefix != "" && !hasPrefix(name, opts.NVTXEventPrefix) {
			continue
		}

		pid, tid := DecomposeGlobalTid(globalTid)
		event := ChromeTraceEvent{
			Name: name,
			Ph:   PhaseComplete,
			Cat:  CatNVTX,
			Ts:   NsToUs(start),
			Dur:  NsToUs(end - start),
			Pid:  ProcessDisplayName(pid),
			Tid:  fmt.Sprintf("Thread %d", tid),
			Args: map[string]any{
				"deviceId": pid,
				"raw_pid":  pid,
				"raw_tid":  tid,
				"start_ns": start,
				"end_ns":   end,
			},
		}
		if c := opts.ColorFor(name); c != "" {
			event.CName = c
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating nvtx rows")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ParseOSRT streams OSRT_API rows: OS-runtime calls (thread/mutex/io APIs).
func ParseOSRT(ctx context.Context, db *sql.DB, strings map[int64]string,
	threadNames map[int64]string, sink EventSink) error {
	if !TableExists(ctx, db, "OSRT_API") {
		logrus.Debug("OSRT_API not present, osrt category unavailable")
		return nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT start, end, globalTid, nameId, returnValue, nestingLevel
		FROM OSRT_API
		ORDER BY start`)
	if err != nil {
		logrus.WithError(err).Warn("failed to query OSRT_API")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var start int64
		var end sql.NullInt64
		var globalTid, nameID int64
		var returnValue, nestingLevel sql.NullInt64
		if err := rows.Scan(&start, &end, &globalTid, &nameID, &returnValue, &nestingLevel); err != nil {
			logrus.WithError(err).Warn("failed to decode osrt row")
			continue
		}
		if !end.Valid {
			continue
		}
		pid, tid := DecomposeGlobalTid(globalTid)
		event := ChromeTraceEvent{
			Name: ResolveString(strings, nameID, "Unknown OS API"),
			Ph:   PhaseComplete,
			Cat:  CatOSRT,
			Ts:   NsToUs(start),
			Dur:  NsToUs(end.Int64 - start),
			Pid:  ProcessDisplayName(pid),
			Tid:  ThreadDisplayName(threadNames, tid),
			Args: map[string]any{
				"returnValue":   returnValue.Int64,
				"nestingLevel":  nestingLevel.Int64,
			},
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating osrt rows")
	}
	return nil
}

// ParseSched streams SCHED_EVENTS rows: OS scheduler activity per OS thread.
func ParseSched(ctx context.Context, db *sql.DB, threadNames map[int64]string, sink EventSink) error {
	if !TableExists(ctx, db, "SCHED_EVENTS") {
		logrus.Debug("SCHED_EVENTS not present, sched category unavailable")
		return nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT start, end, globalTid
		FROM SCHED_EVENTS
		ORDER BY start`)
	if err != nil {
		logrus.WithError(err).Warn("failed to query SCHED_EVENTS")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var start, end, globalTid int64
		if err := rows.Scan(&start, &end, &globalTid); err != nil {
			logrus.WithError(err).Warn("failed to decode sched row")
			continue
		}
		pid, tid := DecomposeGlobalTid(globalTid)
		event := ChromeTraceEvent{
			Name: "sched",
			Ph:   PhaseComplete,
			Cat:  CatSched,
			Ts:   NsToUs(start),
			Dur:  NsToUs(end - start),
			Pid:  ProcessDisplayName(pid),
			Tid:  ThreadDisplayName(threadNames, tid),
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating sched rows")
	}
	return nil
}

// ParseComposite streams COMPOSITE_EVENTS rows, a thin passthrough for
// whichever composite activity nsys produced on this export. The table's
// column set varies across nsys versions; any column absent is treated as
// the whole category being unavailable (schema-missing, not an error).
func ParseComposite(ctx context.Context, db *sql.DB, threadNames map[int64]string, sink EventSink) error {
	if !TableExists(ctx, db, "COMPOSITE_EVENTS") {
		logrus.Debug("COMPOSITE_EVENTS not present, composite category unavailable")
		return nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT start, end, globalTid, name
		FROM COMPOSITE_EVENTS
		ORDER BY start`)
	if err != nil {
		logrus.WithError(err).Warn("COMPOSITE_EVENTS schema does not match expected columns, composite category unavailable")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var start, end, globalTid int64
		var name string
		if err := rows.Scan(&start, &end, &globalTid, &name); err != nil {
			logrus.WithError(err).Warn("failed to decode composite row")
			continue
		}
		pid, tid := DecomposeGlobalTid(globalTid)
		event := ChromeTraceEvent{
			Name: name,
			Ph:   PhaseComplete,
			Cat:  CatComposite,
			Ts:   NsToUs(start),
			Dur:  NsToUs(end - start),
			Pid:  ProcessDisplayName(pid),
			Tid:  ThreadDisplayName(threadNames, tid),
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating composite rows")
	}
	return nil
}
