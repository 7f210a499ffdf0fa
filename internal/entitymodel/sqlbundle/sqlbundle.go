// Package sqlbundle exposes memo table DDL bundles for adapters.
package sqlbundle

import (
	"bufio"
	"fmt"
	"strings"

	sqldocs "memoctx/docs/schema/sql"
)

// MemoTable is the table every SQL backend stores memo rows in.
const MemoTable = "memo"

// Dialect names a supported SQL flavour.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLite returns the SQLite DDL for the memo table.
func SQLite() string {
	return sqldocs.SQLite
}

// Postgres returns the Postgres DDL for the memo table.
func Postgres() string {
	return sqldocs.Postgres
}

// Statements returns the executable DDL statements for a dialect.
func Statements(d Dialect) ([]string, error) {
	switch d {
	case DialectSQLite:
		return SplitStatements(SQLite()), nil
	case DialectPostgres:
		return SplitStatements(Postgres()), nil
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", d)
	}
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// Blank lines and lines starting with "--" are dropped.
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var (
		stmts   []string
		current strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmts = appendStatement(stmts, current.String())
			current.Reset()
		}
	}
	return appendStatement(stmts, current.String())
}

func appendStatement(stmts []string, raw string) []string {
	if stmt := strings.TrimSpace(raw); stmt != "" {
		return append(stmts, stmt)
	}
	return stmts
}
