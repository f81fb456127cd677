package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes we branch on. Anything else is surfaced as-is.
const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// e.g. registering a template under a name that is already live.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsUndefinedTable reports whether err means the schema has not been
// migrated yet. The health check uses this to give a clearer message.
func IsUndefinedTable(err error) bool {
	return pgCode(err) == pgUndefinedTable
}
