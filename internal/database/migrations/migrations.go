package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"ms-booking/internal/logger"
)

type Options struct {
	// Dir holds the NNNNNN_name.{up,down}.sql files.
	Dir string
	// AutoMigrate applies pending migrations when the service boots.
	AutoMigrate bool
}

func DefaultOptions() Options {
	return Options{Dir: "./migrations", AutoMigrate: true}
}

// Runner applies the SQL migrations with golang-migrate.
type Runner struct {
	db       *sql.DB
	options  Options
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(db *sql.DB, opts Options, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Runner{db: db, options: opts, log: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.options.Dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.Dir)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+r.options.Dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = m
	return nil
}

// Up applies every pending migration. A dirty version left by a crashed
// run is reported, not forced.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	if _, dirty, err := r.migrator.Version(); err == nil && dirty {
		return fmt.Errorf("schema is dirty, fix it and run the migrate tool with force")
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	r.logVersion()
	return nil
}

// Down rolls back every migration.
func (r *Runner) Down() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	r.logVersion()
	return nil
}

// To migrates up or down to version.
func (r *Runner) To(version uint) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	r.logVersion()
	return nil
}

// Force records version as clean without running anything.
func (r *Runner) Force(version int) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Force(version); err != nil {
		return fmt.Errorf("force version %d failed: %w", version, err)
	}
	return nil
}

func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	v, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (r *Runner) logVersion() {
	v, dirty, err := r.Version()
	if err != nil {
		r.log.Warn("DATABASE", fmt.Sprintf("Could not read schema version: %v", err))
		return
	}
	r.log.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("version=%d dirty=%t", v, dirty))
}

// Versions lists the migration versions found in dir, in order, and fails
// when a version lacks its down file.
func Versions(dir string) ([]uint, error) {
	src, err := source.Open("file://" + dir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	defer src.Close()

	var out []uint
	v, err := src.First()
	for err == nil {
		down, _, derr := src.ReadDown(v)
		if derr != nil {
			return nil, fmt.Errorf("migration %d has no down file: %w", v, derr)
		}
		down.Close()
		out = append(out, v)
		v, err = src.Next(v)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	return out, nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
