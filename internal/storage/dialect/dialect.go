// Package dialect abstracts the SQL differences between the supported
// database backends.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect captures what the store needs to know about a SQL backend.
type Dialect interface {
	// Name returns the dialect name ("sqlite" or "postgres").
	Name() string

	// DriverName returns the database/sql driver name to open.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string

	// BooleanType returns the SQL type for boolean columns.
	BooleanType() string

	// TimestampType returns the SQL type for timestamp columns.
	TimestampType() string

	// TextType returns the SQL type for large text columns.
	TextType() string

	// UpsertClause returns the ON CONFLICT clause for upserts.
	UpsertClause(conflictColumn string, updateColumns []string) string

	// PragmaStatements returns dialect-specific connection setup statements.
	PragmaStatements() []string
}

// FromDriverName returns the dialect for a configured driver name.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "pgx":
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string       { return "sqlite" }
func (d *sqliteDialect) DriverName() string { return "sqlite" }

// Rebind is a no-op: SQLite uses ? natively.
func (d *sqliteDialect) Rebind(query string) string { return query }

func (d *sqliteDialect) BooleanType() string   { return "INTEGER" }
func (d *sqliteDialect) TimestampType() string { return "TIMESTAMP" }
func (d *sqliteDialect) TextType() string      { return "TEXT" }

func (d *sqliteDialect) UpsertClause(conflictColumn string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", conflictColumn)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s=excluded.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", conflictColumn, strings.Join(updates, ", "))
}

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
}

type postgresDialect struct{}

func (d *postgresDialect) Name() string       { return "postgres" }
func (d *postgresDialect) DriverName() string { return "pgx" }

// Rebind converts ? placeholders to $1, $2, etc.
func (d *postgresDialect) Rebind(query string) string {
	var result strings.Builder
	idx := 1
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&result, "$%d", idx)
			idx++
		} else {
			result.WriteRune(ch)
		}
	}
	return result.String()
}

func (d *postgresDialect) BooleanType() string   { return "BOOLEAN" }
func (d *postgresDialect) TimestampType() string { return "TIMESTAMP WITH TIME ZONE" }
func (d *postgresDialect) TextType() string      { return "TEXT" }

func (d *postgresDialect) UpsertClause(conflictColumn string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", conflictColumn)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", conflictColumn, strings.Join(updates, ", "))
}

func (d *postgresDialect) PragmaStatements() []string {
	return nil
}
