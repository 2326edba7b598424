package chrometrace

import (
	"context"
	"testing"

	"github.com/CedricHerzog/perfowl/internal/testutil"
)

func TestTableExistsAndAvailableCategories(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	testutil.AssertFalse(t, TableExists(ctx, db, "CUPTI_ACTIVITY_KIND_KERNEL"), "table shouldn't exist yet")

	mustExec(t, db, `CREATE TABLE CUPTI_ACTIVITY_KIND_KERNEL (start INTEGER, end INTEGER, deviceId INTEGER, streamId INTEGER, correlationId INTEGER)`)
	testutil.AssertTrue(t, TableExists(ctx, db, "CUPTI_ACTIVITY_KIND_KERNEL"), "table should exist after creation")

	available := AvailableCategories(ctx, db)
	testutil.AssertTrue(t, available[CatKernel], "kernel category should be available")
	testutil.AssertFalse(t, available[CatNVTXKernel], "nvtx-kernel needs all three tables")

	mustExec(t, db, `CREATE TABLE CUPTI_ACTIVITY_KIND_RUNTIME (start INTEGER, end INTEGER, globalTid INTEGER, nameId INTEGER, correlationId INTEGER)`)
	mustExec(t, db, `CREATE TABLE NVTX_EVENTS (start INTEGER, end INTEGER, textId INTEGER, text TEXT, globalTid INTEGER, eventType INTEGER)`)

	available = AvailableCategories(ctx, db)
	testutil.AssertTrue(t, available[CatNVTXKernel], "nvtx-kernel should be available once all three tables exist")
}

func TestTableForCategory(t *testing.T) {
	table, ok := TableForCategory(CatKernel)
	testutil.AssertTrue(t, ok, "kernel category should have a backing table")
	testutil.AssertEqual(t, table, "CUPTI_ACTIVITY_KIND_KERNEL")

	_, ok = TableForCategory(CatNVTXKernel)
	testutil.AssertFalse(t, ok, "nvtx-kernel is synthetic and has no backing table")
}
