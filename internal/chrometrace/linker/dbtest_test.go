package linker

import (
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/CedricHerzog/perfowl/internal/testutil"
)

// openTestDB opens a throwaway nsys-shaped in-memory database, named after
// the running test so parallel/sequential tests never share state.
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

// seedScenarioA creates the shared NVTX/cuda-api/kernel fixture used by both
// the in-memory sweep-line and SQL-based linker tests: one NVTX range
// overlapping one CUDA runtime call that launched one kernel, on device 0.
func seedScenarioA(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `CREATE TABLE NVTX_EVENTS (start INTEGER, end INTEGER, textId INTEGER, text TEXT, globalTid INTEGER, eventType INTEGER)`)
	mustExec(t, db, `CREATE TABLE CUPTI_ACTIVITY_KIND_RUNTIME (start INTEGER, end INTEGER, globalTid INTEGER, nameId INTEGER, correlationId INTEGER)`)
	mustExec(t, db, `CREATE TABLE CUPTI_ACTIVITY_KIND_KERNEL (start INTEGER, end INTEGER, deviceId INTEGER, streamId INTEGER, correlationId INTEGER)`)

	nvtxTid := int64(0)<<24 | 5
	apiTid := int64(0)<<24 | 1
	mustExec(t, db, `INSERT INTO NVTX_EVENTS VALUES (100, 200, NULL, 'forward_pass', ?, 59)`, nvtxTid)
	mustExec(t, db, `INSERT INTO CUPTI_ACTIVITY_KIND_RUNTIME VALUES (120, 130, ?, 0, 1)`, apiTid)
	mustExec(t, db, `INSERT INTO CUPTI_ACTIVITY_KIND_KERNEL VALUES (150, 180, 0, 0, 1)`)
}
