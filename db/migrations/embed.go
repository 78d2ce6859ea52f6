// Package dbmigrations exposes the embedded SQL migrations for the order journal.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into the binaries.
//
//go:embed *.sql
var Files embed.FS
