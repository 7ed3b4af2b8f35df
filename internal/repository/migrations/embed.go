// Package migrations holds the PostgreSQL schema and applies it in order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
