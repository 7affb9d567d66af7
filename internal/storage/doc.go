// Package storage selects and opens the persistence backend.
//
// Drivers:
//   - "memory": maps behind a mutex, optionally seeded from a YAML file
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": PostgreSQL through pgx
//
// Every driver implements the registry, ledger, owner directory and reminder
// store contracts with the same atomicity guarantees.
package storage
