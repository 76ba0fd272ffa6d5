// Package mysql implements the storage interface against a MySQL server.
//
// The SQLite backend is the default for single-host deployments; this backend
// exists for installations where several collectors and verifiers share one
// database. Timestamps are stored as native DECIMAL(20,6) columns, so range
// scans and equality checks happen server-side with no canonicalization step.
//
// Connections go through a thin retry layer: transient failures (stale pool
// connections, brief network blips, server restarts) are retried with
// exponential backoff, while logic errors fail immediately. Statements inside
// a transaction are never retried individually; RunInTransaction retries the
// whole transaction on deadlock instead.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/cloudtally/stacktally/internal/storage"
)

// Compile-time check that MySQLStore implements the Storage interface
var _ storage.Storage = (*MySQLStore)(nil)

// MySQLStore implements the Storage interface using a MySQL server
type MySQLStore struct {
	db     *sql.DB
	dsn    string      // Connection string, password redacted
	closed atomic.Bool // Tracks whether Close() has been called
}

// Config holds MySQL connection configuration
type Config struct {
	Host     string // Server host (default: 127.0.0.1)
	Port     int    // Server port (default: 3306)
	User     string // MySQL user (default: stacktally)
	Password string // MySQL password (default: empty, can be set via STALLY_DB_PASSWORD)
	Database string // Database name (default: stacktally)
}

const opRetryMaxElapsed = 30 * time.Second

func newOpRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opRetryMaxElapsed
	return bo
}

// isRetryableError returns true if the error is a transient connection error
// worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "driver: bad connection") {
		return true
	}
	if strings.Contains(errStr, "invalid connection") {
		return true
	}
	if strings.Contains(errStr, "broken pipe") {
		return true
	}
	if strings.Contains(errStr, "connection reset") {
		return true
	}
	// Server restart: the server may come back within the backoff window.
	if strings.Contains(errStr, "connection refused") {
		return true
	}
	// MySQL error 2013: mid-query disconnect
	if strings.Contains(errStr, "lost connection") {
		return true
	}
	// MySQL error 2006: idle connection timeout
	if strings.Contains(errStr, "gone away") {
		return true
	}
	if strings.Contains(errStr, "i/o timeout") {
		return true
	}
	return false
}

// withRetry executes an operation with retry for transient errors.
func withRetry(ctx context.Context, op func() error) error {
	bo := newOpRetryBackoff()
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err // Retryable - backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // Non-retryable - stop immediately
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// retryConn adapts *sql.DB to the dbConn interface with per-statement retry.
// Transactions bypass it: a statement that failed mid-transaction cannot be
// replayed safely, so RunInTransaction retries at the transaction level.
type retryConn struct {
	db *sql.DB
}

func (r retryConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := withRetry(ctx, func() error {
		var execErr error
		result, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func (r retryConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = r.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

func (r retryConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	// sql.Row defers errors to Scan, so there is nothing to retry here.
	return r.db.QueryRowContext(ctx, query, args...)
}

// conn returns the retry-wrapped connection used by the store-level methods.
func (s *MySQLStore) conn() dbConn {
	return retryConn{db: s.db}
}

// New creates a new MySQL storage backend
func New(ctx context.Context, cfg *Config) (*MySQLStore, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.User == "" {
		cfg.User = "stacktally"
	}
	// Check environment variable for password (more secure than command-line)
	if cfg.Password == "" {
		cfg.Password = os.Getenv("STALLY_DB_PASSWORD")
	}
	if cfg.Database == "" {
		cfg.Database = "stacktally"
	}

	// Fail-fast TCP check before MySQL protocol initialization. This gives an
	// immediate, clear error if the server isn't running, rather than waiting
	// for driver timeouts.
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	probe, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("MySQL server unreachable at %s: %w", addr, err)
	}
	_ = probe.Close()

	if err := validateDatabaseName(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name %q: %w", cfg.Database, err)
	}

	// First connect without a database selected so we can create it.
	initDB, err := sql.Open("mysql", buildDSN(cfg, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to open init connection: %w", err)
	}
	_, err = initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database)) //nolint:gosec // G201: cfg.Database validated by validateDatabaseName above
	_ = initDB.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	db, err := sql.Open("mysql", buildDSN(cfg, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Ping with backoff so a server that is still starting up (common under
	// docker-compose) does not fail the whole process.
	pingErr := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(newOpRetryBackoff(), ctx))
	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", pingErr)
	}

	store := &MySQLStore{
		db:  db,
		dsn: buildDSN(&Config{Host: cfg.Host, Port: cfg.Port, User: cfg.User, Database: cfg.Database}, cfg.Database),
	}

	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// buildDSN constructs a MySQL DSN. If database is empty, connects without
// selecting a database (for init operations).
func buildDSN(cfg *Config, database string) string {
	dsnCfg := gomysql.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dsnCfg.DBName = database
	dsnCfg.ParseTime = true
	return dsnCfg.FormatDSN()
}

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// validateDatabaseName rejects names that could escape backtick quoting.
func validateDatabaseName(name string) error {
	if name == "" {
		return fmt.Errorf("database name is empty")
	}
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("database name must match %s", databaseNamePattern)
	}
	return nil
}

// initSchema creates all tables if they don't exist.
// MySQL doesn't support multiple statements in one Exec, so the schema is
// split into individual statements first.
func (s *MySQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(schema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w\nStatement: %s", err, truncateForError(stmt))
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(script); i++ {
		c := script[i]

		if inString {
			current.WriteByte(c)
			if c == stringChar && (i == 0 || script[i-1] != '\\') {
				inString = false
			}
			continue
		}

		if c == '\'' || c == '"' || c == '`' {
			inString = true
			stringChar = c
			current.WriteByte(c)
			continue
		}

		if c == ';' {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(c)
	}

	stmt := strings.TrimSpace(current.String())
	if stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}

// isOnlyComments returns true if the statement contains only SQL comments
func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}

// truncateForError truncates a string for use in error messages
func truncateForError(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	s.closed.Store(true)
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// IsClosed returns whether Close() has been called on this store
func (s *MySQLStore) IsClosed() bool {
	return s.closed.Load()
}

// DSN returns the connection string with the password redacted
func (s *MySQLStore) DSN() string {
	return s.dsn
}

// UnderlyingDB returns the underlying *sql.DB connection
func (s *MySQLStore) UnderlyingDB() *sql.DB {
	return s.db
}
