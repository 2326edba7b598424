package chrometrace

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// BuildDeviceMap extracts a PID -> device-index mapping from nsys's
// TARGET_INFO_GPU table (present on GPU-capturing profiles). Absence of
// the table is not an error: callers that never see a device id in the
// map fall back to a raw-PID display name, same as any other
// schema-unavailable category.
func BuildDeviceMap(ctx context.Context, db *sql.DB) map[int64]int64 {
	deviceMap := make(map[int64]int64)
	if !TableExists(ctx, db, "TARGET_INFO_GPU") {
		logrus.Debug("TARGET_INFO_GPU table not present, device map empty")
		return deviceMap
	}
	rows, err := db.QueryContext(ctx, `SELECT pid, deviceId FROM TARGET_INFO_GPU`)
	if err != nil {
		logrus.WithError(err).Warn("failed to read TARGET_INFO_GPU table")
		return deviceMap
	}
	defer rows.Close()

	for rows.Next() {
		var pid, deviceID int64
		if err := rows.Scan(&pid, &deviceID); err != nil {
			logrus.WithError(err).Warn("failed to decode TARGET_INFO_GPU row")
			continue
		}
		deviceMap[pid] = deviceID
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating TARGET_INFO_GPU rows")
	}
	return deviceMap
}

// DevicePid renders a device id as the synthetic process label every
// GPU-timeline event uses for its `pid` field.
func DevicePid(deviceID int64) string {
	return fmt.Sprintf("Device %d", deviceID)
}

// BuildThreadNames extracts a TID -> human readable name map from nsys's
// ThreadNames table, resolving the nameId through the StringIds
// dictionary. Missing table yields an empty map.
func BuildThreadNames(ctx context.Context, db *sql.DB, strings map[int64]string) map[int64]string {
	names := make(map[int64]string)
	if !TableExists(ctx, db, "ThreadNames") {
		logrus.Debug("ThreadNames table not present, thread name map empty")
		return names
	}
	rows, err := db.QueryContext(ctx, `SELECT globalTid, nameId FROM ThreadNames`)
	if err != nil {
		logrus.WithError(err).Warn("failed to read ThreadNames table")
		return names
	}
	defer rows.Close()

	for rows.Next() {
		var globalTid, nameID int64
		if err := rows.Scan(&globalTid, &nameID); err != nil {
			logrus.WithError(err).Warn("failed to decode ThreadNames row")
			continue
		}
		_, tid := DecomposeGlobalTid(globalTid)
		names[tid] = ResolveString(strings, nameID, "")
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating ThreadNames rows")
	}
	return names
}

// ThreadDisplayName renders a thread's label for the tid field, falling
// back to "Thread N" when nsys captured no name for it.
func ThreadDisplayName(names map[int64]string, tid int64) string {
	if name, ok := names[tid]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("Thread %d", tid)
}

// ProcessDisplayName renders an OS-level process's label for the pid field.
func ProcessDisplayName(pid int64) string {
	return fmt.Sprintf("Process %d", pid)
}
