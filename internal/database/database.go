package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file" // Required by the library implementation.
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite "github.com/mattn/go-sqlite3"
)

// dsnOptions make every committed transaction durable on return: the caller
// may crash right after a mutating call without losing the write.
const dsnOptions = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"

type Database struct {
	db   *sql.DB
	lock *flock.Flock
	log  *slog.Logger
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

func New(ctx context.Context, dbPath string, log *slog.Logger) (*Database, error) {
	// Concurrent invocations against one store are undefined behavior, so a
	// second instance is refused outright instead of queueing on sqlite locks.
	lock := flock.New(dbPath + ".lock")

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store %s is locked by another instance", dbPath)
	}

	dbFile, err := sql.Open("sqlite3", "file:"+dbPath+dsnOptions)
	if err != nil {
		unlock(ctx, lock, log)
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	if err = applyMigrations(ctx, dbFile, dbPath, log); err != nil {
		unlock(ctx, lock, log)
		return nil, err
	}

	return &Database{db: dbFile, lock: lock, log: log}, nil
}

func (d *Database) Close() error {
	err := d.db.Close()

	unlock(context.Background(), d.lock, d.log)

	return err
}

func applyMigrations(ctx context.Context, dbFile *sql.DB, dbPath string, log *slog.Logger) error {
	dbInstance, err := sqlite3.WithInstance(dbFile, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"dbPath", dbPath,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"dbPath", dbPath)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}

		log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		log.InfoContext(ctx, "DB is migrated", fields...)
	}

	return nil
}

func unlock(ctx context.Context, lock *flock.Flock, log *slog.Logger) {
	if err := lock.Unlock(); err != nil {
		log.WarnContext(ctx, "Failed to release store lock",
			"error", err,
			"lockPath", lock.Path())
	}
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite.Error

	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite.ErrConstraint
}
