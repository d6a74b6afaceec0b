// Package database provides SQLite connectivity for the bridge's audit store.
//
// This package manages:
//   - Opening the database file (or ":memory:") with optional WAL mode
//   - Applying embedded schema migrations in version order
//   - Health checks for the status API
//
// The database only holds the device audit trail written by the frame
// recorder. It is optional; the bridge runs without it.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/jkbms.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and are
// registered by importing the migrations package. Applied versions are kept
// in the schema_migrations table.
package database
