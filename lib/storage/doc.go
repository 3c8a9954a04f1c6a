// Package storage persists tenants, enrolled devices and enrollment tokens.
//
// Two backends implement Store: MemoryStore, used by default and in tests,
// and SQLStore, a bun-backed SQLite database. Lookups that find nothing
// return ErrNotFound rather than a zero value.
package storage
