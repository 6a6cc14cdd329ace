package database

import "embed"

// migrationsFS embeds the numbered SQL migration files. golang-migrate
// records applied versions in schema_migrations and applies pending ones in
// version order, each inside its own transaction, failing fast on the first
// error.
//
//go:embed migrations
var migrationsFS embed.FS
