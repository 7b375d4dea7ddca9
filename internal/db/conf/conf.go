// Package conf
package conf

import (
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds a database connection and metadata
type Config struct {
	Name    string
	Driver  string
	DB      *sql.DB
	ConnStr string
	AdminDB *sql.DB
}

// NewConfig opens and pings a connection for driver. SQLite connections are
// limited to one writer and run in WAL mode.
func NewConfig(driver, connStr string, maxOpen, maxIdle int) (*Config, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA synchronous = NORMAL;", "PRAGMA foreign_keys = ON;"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	} else {
		if maxOpen > 0 {
			db.SetMaxOpenConns(maxOpen)
		}
		if maxIdle > 0 {
			db.SetMaxIdleConns(maxIdle)
		}
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	return &Config{Name: connStr, Driver: driver, DB: db, ConnStr: connStr}, nil
}

// NewSQLiteTestConfig opens a fresh SQLite database in the test's temp dir.
func NewSQLiteTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	cfg, err := NewConfig(DriverSQLite, path, 0, 0)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	return cfg, func() { cfg.DB.Close() }
}

// NewTestConfig creates a new Postgres database with a random name. The
// caller applies the schema. The test is skipped when Postgres is not
// reachable.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	const (
		// Default connection parameters for test database
		testHost     = "localhost"
		testPort     = 5432
		testUser     = "postgres"
		testPassword = "postgres" // Change this if your local postgres has a different password
	)

	adminConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		testHost, testPort, testUser, testPassword)

	adminDB, err := sql.Open(DriverPostgres, adminConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	// Random name to avoid conflicts between parallel runs
	dbName := fmt.Sprintf("test_db_%d", rand.Int31())
	if _, err := adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	dbConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		testHost, testPort, testUser, testPassword, dbName)

	db, err := sql.Open(DriverPostgres, dbConnStr)
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	testDB := &Config{
		Name:    dbName,
		Driver:  DriverPostgres,
		DB:      db,
		ConnStr: dbConnStr,
		AdminDB: adminDB,
	}

	cleanup := func() {
		db.Close()

		_, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName))
		if err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}

		adminDB.Close()
	}

	return testDB, cleanup
}
