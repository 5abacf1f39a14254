// Package storage keeps a journal of finished connection sessions.
//
// Drivers:
//   - "file": JSON Lines file, dependency-free
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// An empty driver or "none" disables storage; Open then returns a nil Store.
package storage
