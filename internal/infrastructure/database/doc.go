// Package database provides SQLite connectivity for Flamecaster's event log.
//
// The database is optional. When enabled it holds the device connectivity
// history written by the eventlog package, with the schema managed by
// versioned migrations embedded in the binary.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each version has an .up.sql file and usually
// a .down.sql file for development rollbacks.
package database
