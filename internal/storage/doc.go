// Package storage keeps a history of batch run reports.
//
// Two backends are available: an append-only JSON Lines file and SQLite.
// Both store outcomes in the order tasks finished.
package storage
