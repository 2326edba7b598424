package chrometrace

import (
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/CedricHerzog/perfowl/internal/testutil"
)

// openTestDB opens a throwaway in-memory nsys-shaped database for the
// parser/schema tests in this package. Each test gets its own named
// in-memory database so parallel or sequential tests never see each
// other's tables.
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
