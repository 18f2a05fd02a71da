package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/database"
)

// PostgresImage is the database image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared test database with migrations applied.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once, has all migrations applied, and is reused
// across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "datawatch_test",
			"POSTGRES_USER":     "datawatch",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://datawatch:test_password@%s:%s/datawatch_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &config.DatabaseConfig{
		Host:           host,
		Port:           port.Int(),
		User:           "datawatch",
		Password:       "test_password",
		Database:       "datawatch_test",
		MaxConnections: 5,
		SSLMode:        "disable",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := db.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// migrationsDir resolves the migrations directory relative to this source
// file, so tests work regardless of the package they run from.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// TruncateAll clears every table touched by the tests. Call between tests
// that need isolation; the shared container itself is never recreated.
func TruncateAll(t *testing.T, db *database.DB) {
	t.Helper()

	tables := []string{
		"watch_run_checkpoints",
		"watch_baseline_members",
		"watch_baselines",
		"watch_events",
		"watch_lifecycle_records",
		"watch_snapshots",
	}
	for _, table := range tables {
		if _, err := db.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
}
