// Package database opens the gateway's SQLite file and applies its schema.
//
// The gateway keeps four kinds of record on disk: API tokens, invite codes,
// paired devices with their pairing requests, and the audit trail. All of
// them share one *sql.DB opened here.
//
// Connection settings:
//   - WAL journal so handshakes can read while an admin call writes
//   - a busy timeout instead of immediate SQLITE_BUSY failures
//   - a single open writer connection; SQLite serialises writes anyway
//   - foreign keys on, file mode 0600
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are pairs of NNN_name.up.sql / NNN_name.down.sql files in an
// fs.FS, applied in filename order and recorded in schema_migrations. The
// FS is passed in, so tests can migrate from fstest.MapFS.
package database
