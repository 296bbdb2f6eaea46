// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// LatestSchemaVersion is the version of the newest psbts table migration.
const LatestSchemaVersion = 1

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var schemaFS embed.FS

// psbtSchema describes where the migrations of one backend live and how to
// reach the database they apply to.
type psbtSchema struct {
	backend string
	dir     string
	driver  func(*sql.DB) (database.Driver, error)
}

var (
	sqliteSchema = psbtSchema{
		backend: "sqlite",
		dir:     "migrations/sqlite",
		driver: func(db *sql.DB) (database.Driver, error) {
			return sqlite.WithInstance(db, &sqlite.Config{})
		},
	}

	postgresSchema = psbtSchema{
		backend: "postgres",
		dir:     "migrations/postgres",
		driver: func(db *sql.DB) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{})
		},
	}
)

// migrator returns a migrate instance bound to db.
func (s psbtSchema) migrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(schemaFS, s.dir)
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", s.backend, err)
	}

	target, err := s.driver(db)
	if err != nil {
		return nil, fmt.Errorf("open %s schema: %w", s.backend, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.backend, target)
	if err != nil {
		return nil, fmt.Errorf("init %s migrator: %w", s.backend, err)
	}

	return m, nil
}

// upgrade brings the psbts table of db to LatestSchemaVersion.
func (s psbtSchema) upgrade(db *sql.DB) error {
	m, err := s.migrator(db)
	if err != nil {
		return err
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debugf("PSBT %s schema is up to date", s.backend)

	case err != nil:
		return fmt.Errorf("upgrade %s schema: %w", s.backend, err)

	default:
		log.Infof("Upgraded PSBT %s schema to version %d", s.backend,
			LatestSchemaVersion)
	}

	return nil
}

// version returns the schema version applied to db. A database without
// any migration reports version zero.
func (s psbtSchema) version(db *sql.DB) (uint, error) {
	m, err := s.migrator(db)
	if err != nil {
		return 0, err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil

	case err != nil:
		return 0, fmt.Errorf("read %s schema version: %w", s.backend,
			err)

	case dirty:
		return 0, fmt.Errorf("%w: %s schema at version %d",
			ErrDirtySchema, s.backend, v)
	}

	return v, nil
}

// ApplySQLiteMigrations creates or upgrades the psbts table of a SQLite
// database.
func ApplySQLiteMigrations(db *sql.DB) error {
	return sqliteSchema.upgrade(db)
}

// ApplyPostgresMigrations creates or upgrades the psbts table of a
// PostgreSQL database.
func ApplyPostgresMigrations(db *sql.DB) error {
	return postgresSchema.upgrade(db)
}

// SQLiteSchemaVersion returns the psbts schema version of a SQLite
// database.
func SQLiteSchemaVersion(db *sql.DB) (uint, error) {
	return sqliteSchema.version(db)
}

// PostgresSchemaVersion returns the psbts schema version of a PostgreSQL
// database.
func PostgresSchemaVersion(db *sql.DB) (uint, error) {
	return postgresSchema.version(db)
}
