package migration

import (
	"errors"
	"io/fs"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded schema migrations to the connected
// database. Postgres goes through golang-migrate; other dialects replay the
// embedded files directly, because golang-migrate's sqlite driver links a
// second sqlite implementation whose database/sql registration collides with
// the connection's driver at init.
func RunMigrations(conn *gorm.DB) error {
	if conn.Dialector.Name() == "postgres" {
		return runPostgres(conn)
	}
	return runDirect(conn)
}

func runPostgres(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "billfold", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// runDirect executes the *.up.sql files in name order, recording applied
// versions so re-runs are no-ops.
func runDirect(conn *gorm.DB) error {
	if err := conn.Exec(
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`,
	).Error; err != nil {
		return err
	}

	names, err := fs.Glob(embeddedMigrations, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int64
		if err := conn.Raw(
			`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, name,
		).Scan(&applied).Error; err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		script, err := fs.ReadFile(embeddedMigrations, name)
		if err != nil {
			return err
		}
		if err := conn.Exec(string(script)).Error; err != nil {
			return err
		}
		if err := conn.Exec(
			`INSERT INTO schema_migrations (version) VALUES (?)`, name,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
