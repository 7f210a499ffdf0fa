// Package sqldocs exposes the memo table DDL directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the SQLite DDL for the memo table.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres DDL for the memo table.
//
//go:embed postgres.sql
var Postgres string
