package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteIdent quotes a possibly schema-qualified identifier like "analytics.raw_transactions".
func QuoteIdent(name string) string {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{name}.Sanitize()
}

// QuoteColumns quotes each column name and joins with commas.
func QuoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
