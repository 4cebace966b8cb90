// Package db provides the shared gorm connector and transaction helpers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/billfold/internal/config"
	"github.com/smallbiznis/billfold/internal/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

// Open connects using the configured DSN. Postgres DSNs get the postgres
// driver; anything else is treated as a sqlite path for development.
func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector := dialectorFor(cfg.DatabaseDSN)
	conn, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	log.Named("db").Info("database connected", zap.String("dialect", conn.Dialector.Name()))
	return conn, nil
}

func dialectorFor(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Serializable runs fn inside a Serializable transaction. SQLite is
// serializable by default, so the explicit isolation level is only requested
// on postgres. Serialization conflicts surface as a transient error so
// callers can retry.
func Serializable(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	if conn.Dialector.Name() == "postgres" {
		err = conn.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
	} else {
		err = conn.WithContext(ctx).Transaction(fn)
	}
	if isSerializationFailure(err) {
		return errs.Transient("tx_conflict", "concurrent update detected, retry the request")
	}
	return err
}

// LockSuffix returns the row-lock suffix for raw queries on dialects that
// support it. SQLite write transactions already lock the database.
func LockSuffix(tx *gorm.DB) string {
	if tx.Dialector.Name() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
