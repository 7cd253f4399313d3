// Package directory provides goGate.PrincipalDirectory implementations:
// an in-memory [Static] table, a PostgreSQL-backed [Postgres] directory and
// a database/sql [SQL] directory used with the pure-Go SQLite driver.
//
// Every implementation reports unknown usernames with an error matching
// goGate.ErrPrincipalNotFound and returns fresh copies, so callers may not
// mutate the directory through a returned principal.
package directory
