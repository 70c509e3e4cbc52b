// Package database provides the console's SQLite storage.
//
// The console keeps a single local database holding the action session
// audit trail. This package opens it with WAL mode and a busy timeout,
// restricts the file to its owner and applies embedded schema migrations.
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
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration runs in its own transaction.
package database
