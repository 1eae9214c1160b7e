// Package migrations embeds the Postgres schema and runs it through
// golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed *.sql
var files embed.FS

// Migration is one embedded up/down pair.
type Migration struct {
	Version uint
	Name    string
	Up      string
	Down    string
}

// Source returns the embedded files as a golang-migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(files, ".")
}

// List returns the embedded migrations ordered by version.
func List() ([]Migration, error) {
	src, err := Source()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var out []Migration
	v, err := src.First()
	for err == nil {
		m := Migration{Version: v}
		if m.Up, m.Name, err = read(src.ReadUp(v)); err != nil {
			return nil, fmt.Errorf("migration %d up: %w", v, err)
		}
		if m.Down, _, err = read(src.ReadDown(v)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("migration %d down: %w", v, err)
		}
		out = append(out, m)
		v, err = src.Next(v)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return out, nil
}

func read(r io.ReadCloser, name string, err error) (string, string, error) {
	if err != nil {
		return "", "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return string(data), name, err
}

// Runner applies the embedded migrations to a Postgres database.
type Runner struct {
	m *migrate.Migrate
}

// New opens a runner over pool. Close releases the underlying connection.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Runner, error) {
	src, err := Source()
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	drv, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		_ = src.Close()
		_ = db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if logger != nil {
		m.Log = migrateLogger{logger}
	}
	return &Runner{m: m}, nil
}

// Up applies every pending migration and reports the versions before and
// after. An up-to-date schema is not an error.
func (r *Runner) Up() (from, to uint, err error) {
	if from, err = r.Version(); err != nil {
		return 0, 0, err
	}
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return from, from, err
	}
	to, err = r.Version()
	return from, to, err
}

// Down rolls back the given number of applied migrations.
func (r *Runner) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	return r.m.Steps(-steps)
}

// Version returns the current schema version, 0 when nothing is applied.
// A dirty schema is reported as an error so callers stop before touching it.
func (r *Runner) Version() (uint, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

// Close releases the source and database handles.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool { return false }
