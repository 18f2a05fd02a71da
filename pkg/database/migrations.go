package database

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// RunMigrations brings the watch schema up to date from the SQL files in
// migrationsPath. Safe to run on every startup: already-applied versions are
// skipped. golang-migrate needs database/sql, hence the separate handle from
// the pgx pool.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("open migration source %s: %w", migrationsPath, err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("closing migrator",
				zap.NamedError("source", srcErr),
				zap.NamedError("database", dbErr))
		}
	}()

	switch err := m.Up(); err {
	case nil:
		version, _, _ := m.Version()
		logger.Info("schema migrated", zap.Uint("version", version))
	case migrate.ErrNoChange:
		logger.Info("schema already up to date")
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
