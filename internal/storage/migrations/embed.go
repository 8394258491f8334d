// Package migrations embeds the goose schema migrations for the local
// sqlite store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
