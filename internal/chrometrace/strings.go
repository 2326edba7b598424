package chrometrace

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"
)

// missingStringPlaceholder is what ResolveString returns when a
// nameId/textId has no entry in the StringIds dictionary (nsys sometimes
// emits unresolved ids for truncated or redacted rows) and the caller
// passed no fallback. missingNamePlaceholder is not returned by any
// resolver in this package.
const (
	missingStringPlaceholder = "<unknown>"
	missingNamePlaceholder   = "<unnamed>"
)

// LoadStrings reads the StringIds table into a process-local id->value
// dictionary. A missing table is not an error (older nsys exports and
// SQL-only conversions may not carry it) — it is logged and an empty map
// is returned, matching the schema-introspector's "unavailable, not
// broken" policy.
func LoadStrings(ctx context.Context, db *sql.DB) map[int64]string {
	strings := make(map[int64]string)
	if !TableExists(ctx, db, "StringIds") {
		logrus.Debug("StringIds table not present, string resolution disabled")
		return strings
	}
	rows, err := db.QueryContext(ctx, `SELECT id, value FROM StringIds`)
	if err != nil {
		logrus.WithError(err).Warn("failed to read StringIds table")
		return strings
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			logrus.WithError(err).Warn("failed to decode StringIds row")
			continue
		}
		strings[id] = value
	}
	if err := rows.Err(); err != nil {
		logrus.WithError(err).Warn("error iterating StringIds rows")
	}
	return strings
}

// ResolveString looks up a nameId/textId, falling back to a placeholder
// when the id is absent from the dictionary or the dictionary itself
// wasn't available.
func ResolveString(strings map[int64]string, id int64, fallback string) string {
	if v, ok := strings[id]; ok {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return missingStringPlaceholder
}
