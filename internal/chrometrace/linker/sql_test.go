package linker

import (
	"context"
	"testing"

	"github.com/CedricHerzog/perfowl/internal/chrometrace"
	"github.com/CedricHerzog/perfowl/internal/testutil"
)

func TestCanUseSQLLinkingRequiresAllThreeTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	testutil.AssertFalse(t, CanUseSQLLinking(ctx, db), "no tables yet")
	seedScenarioA(t, db)
	testutil.AssertTrue(t, CanUseSQLLinking(ctx, db), "scenario A seeds all three tables")
}

func TestStreamNVTXKernelEventsMatchesScenarioA(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedScenarioA(t, db)

	var events []chrometrace.ChromeTraceEvent
	err := StreamNVTXKernelEvents(ctx, db, map[int64]string{}, chrometrace.ConversionOptions{}, func(e chrometrace.ChromeTraceEvent) error {
		events = append(events, e)
		return nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertSliceLen(t, events, 1)
	testutil.AssertEqual(t, events[0].Name, "forward_pass")
	testutil.AssertFloatApproxEqual(t, events[0].Ts, chrometrace.NsToUs(150), 1e-9)
}

func TestStreamFlowEventsMatchesScenarioA(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedScenarioA(t, db)

	var events []chrometrace.ChromeTraceEvent
	err := StreamFlowEvents(ctx, db, map[int64]int64{}, func(e chrometrace.ChromeTraceEvent) error {
		events = append(events, e)
		return nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertSliceLen(t, events, 2)
	testutil.AssertEqual(t, events[0].Ph, chrometrace.PhaseFlowStart)
	testutil.AssertEqual(t, events[1].Ph, chrometrace.PhaseFlowEnd)
}

func TestGetMappedNVTXIdentifiersMatchesScenarioA(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedScenarioA(t, db)

	mapped, err := GetMappedNVTXIdentifiers(ctx, db)
	testutil.AssertNoError(t, err)
	testutil.AssertMapLen(t, mapped, 1)
}

func TestStreamUnmappedNVTXEventsExcludesMapped(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedScenarioA(t, db)
	mustExec(t, db, `INSERT INTO NVTX_EVENTS VALUES (500, 600, NULL, 'unrelated_range', ?, 59)`, int64(9)<<24|2)

	mapped, err := GetMappedNVTXIdentifiers(ctx, db)
	testutil.AssertNoError(t, err)

	var events []chrometrace.ChromeTraceEvent
	err = StreamUnmappedNVTXEvents(ctx, db, map[int64]string{}, chrometrace.ConversionOptions{}, mapped, func(e chrometrace.ChromeTraceEvent) error {
		events = append(events, e)
		return nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertSliceLen(t, events, 1)
	testutil.AssertEqual(t, events[0].Name, "unrelated_range")
}

// TestDifferentialSQLVsSweepLineLinking proves the SQL linker and the
// in-memory sweep-line linker agree on scenario A: same nvtx-kernel count,
// same flow-event count, same mapped-identifier count.
func TestDifferentialSQLVsSweepLineLinking(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedScenarioA(t, db)

	nvtxEvents, err := chrometrace.CollectCategory(func(sink chrometrace.EventSink) error {
		return chrometrace.ParseNVTX(ctx, db, map[int64]string{}, chrometrace.ConversionOptions{}, sink)
	})
	testutil.AssertNoError(t, err)
	cudaAPIEvents, err := chrometrace.CollectCategory(func(sink chrometrace.EventSink) error {
		return chrometrace.ParseCudaAPI(ctx, db, map[int64]string{}, map[int64]int64{}, sink)
	})
	testutil.AssertNoError(t, err)
	kernelEvents, err := chrometrace.CollectCategory(func(sink chrometrace.EventSink) error {
		return chrometrace.ParseKernel(ctx, db, sink)
	})
	testutil.AssertNoError(t, err)

	sweepNVTXKernel, sweepMapped, sweepFlows := LinkNVTXToKernels(nvtxEvents, cudaAPIEvents, kernelEvents, chrometrace.ConversionOptions{})

	var sqlNVTXKernel []chrometrace.ChromeTraceEvent
	testutil.AssertNoError(t, StreamNVTXKernelEvents(ctx, db, map[int64]string{}, chrometrace.ConversionOptions{}, func(e chrometrace.ChromeTraceEvent) error {
		sqlNVTXKernel = append(sqlNVTXKernel, e)
		return nil
	}))
	var sqlFlows []chrometrace.ChromeTraceEvent
	testutil.AssertNoError(t, StreamFlowEvents(ctx, db, map[int64]int64{}, func(e chrometrace.ChromeTraceEvent) error {
		sqlFlows = append(sqlFlows, e)
		return nil
	}))
	sqlMapped, err := GetMappedNVTXIdentifiers(ctx, db)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, len(sweepNVTXKernel), len(sqlNVTXKernel))
	testutil.AssertEqual(t, len(sweepFlows), len(sqlFlows))
	testutil.AssertEqual(t, len(sweepMapped), len(sqlMapped))
}
