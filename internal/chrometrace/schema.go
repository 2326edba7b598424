package chrometrace

import (
	"context"
	"database/sql"
)

// tableRegistry maps nsys SQLite table names to the category tag they feed.
// Grounded on ncompass.trace.converters.schema's TableRegistry and its
// get_activity_type lookup.
var tableRegistry = map[string]string{
	"CUPTI_ACTIVITY_KIND_KERNEL":  CatKernel,
	"CUPTI_ACTIVITY_KIND_RUNTIME": CatCudaAPI,
	"NVTX_EVENTS":                 CatNVTX,
	"OSRT_API":                    CatOSRT,
	"SCHED_EVENTS":                CatSched,
	"COMPOSITE_EVENTS":            CatComposite,
}

// TableForCategory returns the source table name for a category, and
// whether that category has one (nvtx-kernel and gpu_user_annotation are
// synthetic and have none).
func TableForCategory(cat string) (string, bool) {
	for table, c := range tableRegistry {
		if c == cat {
			return table, true
		}
	}
	return "", false
}

// TableExists reports whether a table is present in the connected database's
// sqlite_master catalog.
func TableExists(ctx context.Context, db *sql.DB, table string) bool {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
	).Scan(&name)
	return err == nil
}

// AvailableCategories inspects sqlite_master and returns the set of
// categories whose backing table is present, plus "nvtx-kernel" when
// kernel, cuda-api and nvtx are all present simultaneously.
func AvailableCategories(ctx context.Context, db *sql.DB) map[string]bool {
	available := make(map[string]bool)
	for table, cat := range tableRegistry {
		if TableExists(ctx, db, table) {
			available[cat] = true
		}
	}
	if available[CatKernel] && available[CatCudaAPI] && available[CatNVTX] {
		available[CatNVTXKernel] = true
	}
	return available
}
