// Package client bootstraps the local media store used by the CLI.
//
// InitDatabase opens SQLite (modernc.org/sqlite) or Postgres (pgx stdlib),
// applies the embedded goose migrations for the matching dialect and returns
// the repositories bound to the connection.
package client
