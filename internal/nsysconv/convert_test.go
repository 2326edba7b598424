package nsysconv

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/CedricHerzog/perfowl/internal/testutil"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := sql.Open("sqlite", dsn)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, stmt string, args ...any) {
	t.Helper()
	_, err := db.Exec(stmt, args...)
	testutil.AssertNoError(t, err)
}

func seedKernelOnly(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `CREATE TABLE CUPTI_ACTIVITY_KIND_KERNEL (start INTEGER, end INTEGER, deviceId INTEGER, streamId INTEGER, correlationId INTEGER)`)
	mustExec(t, db, `INSERT INTO CUPTI_ACTIVITY_KIND_KERNEL VALUES (1000, 2000, 0, 0, 1)`)
}

func TestConvertStreamingEmptyDatabaseProducesEmptyTrace(t *testing.T) {
	db := openTestDB(t)
	var buf bytes.Buffer
	err := ConvertStreaming(context.Background(), db, ConversionOptions{}, &buf)
	testutil.AssertNoError(t, err)

	var decoded struct {
		TraceEvents []ChromeTraceEvent `json:"traceEvents"`
	}
	testutil.AssertNoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	testutil.AssertSliceEmpty(t, decoded.TraceEvents)
}

func TestConvertStreamingEmitsKernelEvents(t *testing.T) {
	db := openTestDB(t)
	seedKernelOnly(t, db)

	var buf bytes.Buffer
	err := ConvertStreaming(context.Background(), db, ConversionOptions{}, &buf)
	testutil.AssertNoError(t, err)

	var decoded struct {
		TraceEvents []ChromeTraceEvent `json:"traceEvents"`
	}
	testutil.AssertNoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	testutil.AssertSliceLen(t, decoded.TraceEvents, 1)
	testutil.AssertEqual(t, decoded.TraceEvents[0].Cat, "kernel")
	testutil.AssertNoError(t, ValidateChromeTrace(decoded.TraceEvents))
}

func TestConvertStreamingRespectsActivityTypeFilter(t *testing.T) {
	db := openTestDB(t)
	seedKernelOnly(t, db)

	var buf bytes.Buffer
	err := ConvertStreaming(context.Background(), db, ConversionOptions{ActivityTypes: []string{"osrt"}}, &buf)
	testutil.AssertNoError(t, err)

	var decoded struct {
		TraceEvents []ChromeTraceEvent `json:"traceEvents"`
	}
	testutil.AssertNoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	testutil.AssertSliceEmpty(t, decoded.TraceEvents)
}

func TestConvertSortsByTimestamp(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, `CREATE TABLE CUPTI_ACTIVITY_KIND_KERNEL (start INTEGER, end INTEGER, deviceId INTEGER, streamId INTEGER, correlationId INTEGER)`)
	mustExec(t, db, `INSERT INTO CUPTI_ACTIVITY_KIND_KERNEL VALUES (5000, 6000, 0, 0, 1)`)
	mustExec(t, db, `INSERT INTO CUPTI_ACTIVITY_KIND_KERNEL VALUES (1000, 2000, 0, 0, 2)`)

	events, err := Convert(context.Background(), db, ConversionOptions{})
	testutil.AssertNoError(t, err)
	testutil.AssertSliceLen(t, events, 2)
	testutil.AssertLess(t, events[0].Ts, events[1].Ts)
}

func TestConvertNsysReportRejectsRustBackend(t *testing.T) {
	err := ConvertNsysReport(context.Background(), "irrelevant.nsys-rep", "out.json", ConversionOptions{}, false, true)
	testutil.AssertErrorContains(t, err, "rust linker backend")
}

func TestConvertNsysReportMissingInput(t *testing.T) {
	err := ConvertNsysReport(context.Background(), "/nonexistent/path.nsys-rep", "out.json", ConversionOptions{}, false, false)
	testutil.AssertErrorContains(t, err, "input file not found")
}

func TestReadChromeTraceMissingInput(t *testing.T) {
	_, err := ReadChromeTrace("/nonexistent/trace.json")
	testutil.AssertErrorContains(t, err, "input file not found")
}

func TestWriteThenReadChromeTraceRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/trace.json"

	events := []ChromeTraceEvent{
		{Name: "matmul_kernel", Cat: "kernel", Ph: "X", Ts: 10, Dur: 5, Pid: "Device 0", Tid: "Stream 0"},
	}
	testutil.AssertNoError(t, WriteChromeTrace(path, events))

	roundTripped, err := ReadChromeTrace(path)
	testutil.AssertNoError(t, err)
	testutil.AssertSliceLen(t, roundTripped, 1)
	testutil.AssertEqual(t, roundTripped[0].Name, "matmul_kernel")
}

func TestLinkUserAnnotationsCreatesGPUAnnotation(t *testing.T) {
	events := []ChromeTraceEvent{
		{Name: "fwd", Cat: "user_annotation", Ph: "X", Ts: 100, Dur: 400, Pid: 1, Tid: 1},
		{Name: "launch", Cat: "cuda_runtime", Ph: "X", Ts: 120, Dur: 10, Pid: 1, Tid: 1,
			Args: map[string]any{"correlationId": int64(7)}},
		{Name: "matmul_kernel", Cat: "kernel", Ph: "X", Ts: 150, Dur: 30, Pid: float64(0), Tid: float64(0),
			Args: map[string]any{"correlationId": int64(7)}},
	}

	linked := LinkUserAnnotations(events, false)

	var sawGPUAnnotation bool
	for _, e := range linked {
		if e.Cat == "gpu_user_annotation" && e.Name == "fwd" {
			sawGPUAnnotation = true
		}
	}
	testutil.AssertTrue(t, sawGPUAnnotation, "expected a gpu_user_annotation named fwd")
	testutil.AssertNoError(t, ValidateChromeTrace(linked))
}
