package postgres

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed *.sql
var migrationFiles embed.FS

// Migrate applies every pending migration under this package's embedded
// migrations directory, the Go equivalent of `alembic upgrade head`.
func (l *Ledger) Migrate() error {
	src, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return errors.Wrap(err, "postgres: load migrations")
	}
	driver, err := migratepg.WithInstance(l.db.DB, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, "postgres: migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "postgres: migrate init")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "postgres: migrate up")
	}
	return nil
}
