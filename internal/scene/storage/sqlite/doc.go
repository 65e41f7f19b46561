// Package sqlite persists analysis runs, per-frame track observations and
// anomalies in a SQLite database.
//
// The schema is embedded and migrated with golang-migrate when the store is
// opened. All SQL for the scene packages lives here so the domain layers
// stay free of storage concerns.
package sqlite
