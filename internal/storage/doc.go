package storage

// Package storage persists script definitions and their scheduling state.
//
// It currently supports:
//   - "sqlite": SQLite database file (the default)
//   - "memory": process-local store, used by tests and ephemeral setups
