// Package migrations embeds the SQL schema shared by the Postgres and SQLite stores.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
