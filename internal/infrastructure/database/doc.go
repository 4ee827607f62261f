// Package database provides SQLite connectivity for LightLink Core.
//
// It backs the event journal: one file, WAL mode for concurrent readers,
// a busy timeout against lock contention, and versioned migrations read
// from an fs.FS (normally the embedded migrations package).
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Journal.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. All queries use parameterised statements.
// The database file is created with mode 0600.
package database
