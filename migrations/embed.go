// Package migrations embeds the SQL schema for the durable order store.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
