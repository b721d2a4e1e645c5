// Package migrations holds the Postgres schema as goose SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
