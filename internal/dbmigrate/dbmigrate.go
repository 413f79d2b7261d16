// Package dbmigrate applies the postgres schema under migrations/.
package dbmigrate

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Migrator wraps a migrate instance and the connection it owns.
type Migrator struct {
	m  *migrate.Migrate
	db *sql.DB
}

// Open connects to dsn and loads migrations from dir.
func Open(dir, dsn string) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return &Migrator{m: m, db: db}, nil
}

func (g *Migrator) Close() error {
	return g.db.Close()
}

// Version returns the applied version; zero when nothing was applied.
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Up applies all pending migrations, or steps of them when steps > 0.
func (g *Migrator) Up(steps int) error {
	var err error
	if steps > 0 {
		err = g.m.Steps(steps)
	} else {
		err = g.m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Down rolls back all migrations, or steps of them when steps > 0.
func (g *Migrator) Down(steps int) error {
	var err error
	if steps > 0 {
		err = g.m.Steps(-steps)
	} else {
		err = g.m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

func (g *Migrator) Force(version int) error {
	if err := g.m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}

// Apply brings the database at dsn up to date. A dirty database is an error.
func Apply(dir, dsn string, logger *slog.Logger) error {
	g, err := Open(dir, dsn)
	if err != nil {
		return err
	}
	defer g.Close()

	version, dirty, err := g.Version()
	if err != nil {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d). Manual intervention required", version)
	}
	if err := g.Up(0); err != nil {
		return err
	}
	newVersion, _, _ := g.Version()
	if newVersion != version {
		logger.Info("migrated database", slog.Uint64("from", uint64(version)), slog.Uint64("to", uint64(newVersion)))
	} else {
		logger.Info("database is up to date", slog.Uint64("version", uint64(version)))
	}
	return nil
}
