// Package store is the observation store (§4.4): a single embedded relational
// database, schema-versioned and migrated forward-only, owning every
// persisted row in the core's data model (§3).
//
// Grounded on houneTeam-pible_go's internal/db/store.go — a single *sql.DB
// opened against modernc.org/sqlite with SetMaxOpenConns(1) and a
// mutex-guarded write path, because SQLite is effectively single-writer.
// This package keeps that connection policy and re-schemes the tables to
// the core's Device/Service/Characteristic/Evidence model, and replaces
// pible's ad hoc ALTER-TABLE backfills with versioned migrations applied by
// github.com/rubenv/sql-migrate.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/srg/bleep/internal/bleeperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsRoot = "migrations"

// Store owns the single write connection to the observations database.
type Store struct {
	log *logrus.Entry
	mu  sync.Mutex
	db  *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and migrates
// it forward to the current schema.
func Open(path string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	entry := log.WithField("component", "store")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, bleeperr.New(bleeperr.SchemaMismatch, "open", err).WithContext(path)
	}
	// SQLite is effectively single-writer; one connection avoids SQLITE_BUSY
	// between concurrent write paths (advertisement ingest, router stores,
	// recovery-pipeline side effects).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, bleeperr.New(bleeperr.SchemaMismatch, "open", err).WithContext("foreign_keys pragma")
	}

	s := &Store{log: entry, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	source := migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       migrationsRoot,
	}
	n, err := migrate.Exec(s.db, "sqlite3", source, migrate.Up)
	if err != nil {
		return bleeperr.New(bleeperr.MigrationFailed, "migrate", err)
	}
	s.log.WithField("applied", n).Info("observation store migrated")
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion is the current linear migration count this package ships;
// exposed for diagnostics, not used to gate behaviour.
const SchemaVersion = 9

func normalizeMAC(mac string) string {
	b := []byte(mac)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// deviceIDByMAC resolves a device's row id. Callers hold s.mu.
func (s *Store) deviceIDByMAC(ctx context.Context, mac string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM devices WHERE mac = ?`, mac).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup device %s: %w", mac, err)
	}
	return id, true, nil
}
