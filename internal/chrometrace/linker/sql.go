package linker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/CedricHerzog/perfowl/internal/chrometrace"
)

// CanUseSQLLinking reports whether the three tables the SQL linker joins
// over are all present.
func CanUseSQLLinking(ctx context.Context, db *sql.DB) bool {
	return chrometrace.TableExists(ctx, db, "NVTX_EVENTS") &&
		chrometrace.TableExists(ctx, db, "CUPTI_ACTIVITY_KIND_RUNTIME") &&
		chrometrace.TableExists(ctx, db, "CUPTI_ACTIVITY_KIND_KERNEL")
}

const nvtxKernelQuery = `
	SELECT n.rowid, n.start, n.end, n.text, n.textId, n.globalTid,
	       MIN(k.start) as kernel_start, MAX(k.end) as kernel_end,
	       k.deviceId, COUNT(*) as kernel_count
	FROM NVTX_EVENTS n
	JOIN CUPTI_ACTIVITY_KIND_RUNTIME c
	  ON (c.start >= n.start AND c.start < n.end
	      AND ((c.globalTid >> 24) & 0xFFFFFF) = ((n.globalTid >> 24) & 0xFFFFFF))
	JOIN CUPTI_ACTIVITY_KIND_KERNEL k
	  ON (k.correlationId = c.correlationId)
	WHERE n.eventType = ?
	GROUP BY n.rowid`

// StreamNVTXKernelEvents yields the synthesized GPU-timeline spans for
// every NVTX range that overlapped at least one correlated kernel, driven
// entirely by a single JOIN/GROUP BY query — the database-side
// counterpart of the in-memory per-device sweep in nvtx.go. Both must
// produce the same linked set for a given database.
func StreamNVTXKernelEvents(
	ctx context.Context, db *sql.DB, strings map[int64]string,
	opts chrometrace.ConversionOptions, sink chrometrace.EventSink,
) error {
	rows, err := db.QueryContext(ctx, nvtxKernelQuery, chrometrace.NVTXPushPopEventType)
	if err != nil {
		logrus.WithError(err).Warn("nvtx-kernel SQL join failed")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var rowid, start, end, globalTid, kernelStart, kernelEnd, deviceID, kernelCount int64
		var textID sql.NullInt64
		var text sql.NullString
		if err := rows.Scan(&rowid, &start, &end, &text, &textID, &globalTid,
			&kernelStart, &kernelEnd, &deviceID, &kernelCount); err != nil {
			logrus.WithError(err).Warn("failed to decode nvtx-kernel join row")
			continue
		}
		_, tid := chrometrace.DecomposeGlobalTid(globalTid)
		name := resolveNVTXName(strings, textID, text)

		event := chrometrace.ChromeTraceEvent{
			Name: name,
			Ph:   chrometrace.PhaseComplete,
			Cat:  chrometrace.CatNVTXKernel,
			Ts:   chrometrace.NsToUs(kernelStart),
			Dur:  chrometrace.NsToUs(kernelEnd - kernelStart),
			Pid:  chrometrace.DevicePid(deviceID),
			Tid:  fmt.Sprintf("NVTX Kernel Thread %d", tid),
			Args: map[string]any{"kernel_count": kernelCount},
		}
		if c := opts.ColorFor(name); c != "" {
			event.CName = c
		}
		if err := sink(event); err != nil {
			return err
		}
	}
	return rows.Err()
}

func resolveNVTXName(strings map[int64]string, textID sql.NullInt64, text sql.NullString) string {
	if textID.Valid {
		if v, ok := strings[textID.Int64]; ok {
			return v
		}
	}
	if text.Valid && text.String != "" {
		return text.String
	}
	return noNameText
}

const flowEventsQuery = `
	SELECT c.start as cuda_api_start, c.globalTid as cuda_api_tid, c.correlationId,
	       k.start as kernel_start, k.deviceId, k.streamId
	FROM CUPTI_ACTIVITY_KIND_RUNTIME c
	JOIN CUPTI_ACTIVITY_KIND_KERNEL k ON (k.correlationId = c.correlationId)`

// StreamFlowEvents yields the cuda_flow `s`/`f` pairs for every matched
// (cuda-api call, kernel) correlation id — independent of any NVTX
// linking, matching the nvtx linker's flow-generation rule.
func StreamFlowEvents(ctx context.Context, db *sql.DB, deviceMap map[int64]int64, sink chrometrace.EventSink) error {
	rows, err := db.QueryContext(ctx, flowEventsQuery)
	if err != nil {
		logrus.WithError(err).Warn("flow events SQL join failed")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var cudaAPIStart, cudaAPITid, correlationID, kernelStart, deviceID, streamID int64
		if err := rows.Scan(&cudaAPIStart, &cudaAPITid, &correlationID, &kernelStart, &deviceID, &streamID); err != nil {
			logrus.WithError(err).Warn("failed to decode flow event join row")
			continue
		}
		apiPid, apiTid := chrometrace.DecomposeGlobalTid(cudaAPITid)
		apiPidDisplay := any(chrometrace.ProcessDisplayName(apiPid))
		if d, ok := deviceMap[apiPid]; ok {
			apiPidDisplay = chrometrace.DevicePid(d)
		}

		flowStart := chrometrace.ChromeTraceEvent{
			Ph:  chrometrace.PhaseFlowStart,
			Cat: chrometrace.CatCudaFlow,
			Ts:  chrometrace.NsToUs(cudaAPIStart),
			Pid: apiPidDisplay,
			Tid: fmt.Sprintf("CUDA API Thread %d", apiTid),
			ID:  correlationID,
		}
		flowFinish := chrometrace.ChromeTraceEvent{
			Ph:  chrometrace.PhaseFlowEnd,
			Cat: chrometrace.CatCudaFlow,
			Ts:  chrometrace.NsToUs(kernelStart),
			Pid: chrometrace.DevicePid(deviceID),
			Tid: fmt.Sprintf("Stream %d", streamID),
			ID:  correlationID,
			BP:  "e",
		}
		if err := sink(flowStart); err != nil {
			return err
		}
		if err := sink(flowFinish); err != nil {
			return err
		}
	}
	return rows.Err()
}

const mappedNVTXQuery = `
	SELECT DISTINCT n.rowid as nvtx_rowid
	FROM NVTX_EVENTS n
	JOIN CUPTI_ACTIVITY_KIND_RUNTIME c
	  ON (c.start >= n.start AND c.start < n.end
	      AND ((c.globalTid >> 24) & 0xFFFFFF) = ((n.globalTid >> 24) & 0xFFFFFF))
	JOIN CUPTI_ACTIVITY_KIND_KERNEL k ON (k.correlationId = c.correlationId)
	WHERE n.eventType = ?`

// GetMappedNVTXIdentifiers returns the rowids of NVTX_EVENTS rows that are
// reachable from the nvtx-kernel join, so the CPU-side NVTX stream can
// filter them out (Option B: remove mapped events, keep unmapped ones).
// Keying on nsys's own rowid rather than reconstructing a (device, tid,
// start, text) tuple sidesteps an ambiguity in the source: a CPU-side NVTX
// row's own process id is not the GPU device id its linked kernel ran on,
// so no tuple built from the NVTX row alone can equal one built from the
// join's kernel-side columns. The rowid is already the stable per-row
// identity the kernel-join query groups by.
func GetMappedNVTXIdentifiers(ctx context.Context, db *sql.DB) (map[int64]bool, error) {
	rows, err := db.QueryContext(ctx, mappedNVTXQuery, chrometrace.NVTXPushPopEventType)
	if err != nil {
		logrus.WithError(err).Warn("mapped-nvtx SQL join failed")
		return map[int64]bool{}, nil
	}
	defer rows.Close()

	identifiers := make(map[int64]bool)
	for rows.Next() {
		var rowid int64
		if err := rows.Scan(&rowid); err != nil {
			logrus.WithError(err).Warn("failed to decode mapped-nvtx row")
			continue
		}
		identifiers[rowid] = true
	}
	return identifiers, rows.Err()
}

// StreamUnmappedNVTXEvents yields the NVTX CPU-side ranges whose rowid is
// absent from mappedIdentifiers, applying the optional name-prefix filter
// from options. This is the "keep the CPU-side span" half of the NVTX
// replacement policy when SQL linking is in use.
func StreamUnmappedNVTXEvents(
	ctx context.Context, db *sql.DB, strings map[int64]string,
	opts chrometrace.ConversionOptions, mappedIdentifiers map[int64]bool,
	sink chrometrace.EventSink,
) error {
	query := `SELECT rowid, start, end, textId, text, globalTid FROM NVTX_EVENTS WHERE eventType = ?`
	args := []any{chrometrace.NVTXPushPopEventType}
	if opts.NVTXEventPrefix != "" {
		query += ` AND text LIKE ?`
		args = append(args, opts.NVTXEventPrefix+"%")
	}
	query += ` ORDER BY start`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		logrus.WithError(err).Warn("failed to query unmapped nvtx events")
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var rowid, start, end, globalTid int64
		var textID sql.NullInt64
		var text sql.NullString
		if err := rows.Scan(&rowid, &start, &end, &textID, &text, &globalTid); err != nil {
			logrus.WithError(err).Warn("failed to decode nvtx row")
			continue
		}
		if mappedIdentifiers[rowid] {
			continue
		}
		name := resolveNVTXName(strings, textID, text)
		pid, tid := chrometrace.DecomposeGlobalTid(globalTid)
		event := chrometrace.ChromeTraceEvent{
			Name: name,
			Ph:   chrometrace.PhaseComplete,
			Cat:  chrometrace.CatNVTX,
			Ts:   chrometrace.NsToUs(start),
			Dur:  chrometrace.NsToUs(end - start),
			Pid:  chrometrace.ProcessDisplayName(pid),
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
	return rows.Err()
}
