// Package sqlite provides a SQLite implementation of the batch token store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	syncErrors "github.com/c0deZ3R0/go-matrix-sync/errors"
	"github.com/c0deZ3R0/go-matrix-sync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opGet   = "sqlite.Get"
	opSet   = "sqlite.Set"
	opList  = "sqlite.List"
	opReset = "sqlite.Reset"

	component = "storage/sqlite"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("store is closed")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration options for the Store.
//
// DefaultConfig enables WAL mode. SQLite serializes writers, so the pool
// is kept small.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:cursors.db"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger is used for store lifecycle messages. Defaults to a
	// component logger from the logging package.
	Logger *slog.Logger

	// TableName is the name of the token table.
	// Defaults to "sync_cursors" if empty.
	TableName string

	// Connection pool settings.
	// Defaults: MaxOpen=4, MaxIdle=2, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "sync_cursors"
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component(component)).Logger
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with WAL mode enabled.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store keeps one batch token per track in a SQLite table.
type Store struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	logger    *slog.Logger
	tableName string
}

// Compile-time checks
var (
	_ cursor.KeyedStore = (*Store)(nil)
	_ cursor.Inspector  = (*Store)(nil)
)

// New opens the database and creates the token table if needed.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	logger := config.Logger
	logger.Info("Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:        db,
		logger:    logger,
		tableName: config.TableName,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.Info("SQLite cursor store initialized", slog.String("table_name", config.TableName))
	return store, nil
}

func (s *Store) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        track       TEXT PRIMARY KEY,
        token       TEXT NOT NULL,
        updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );`, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func storeError(err error, op string) error {
	return syncErrors.WrapOpComponentKind(err, op, component, syncErrors.KindStore)
}

// Track returns the Store for the named track.
func (s *Store) Track(name string) cursor.Store {
	return track{store: s, name: name}
}

// List returns every stored token keyed by track.
func (s *Store) List(ctx context.Context) (map[string]cursor.Token, error) {
	if err := s.checkOpen(); err != nil {
		return nil, storeError(err, opList)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT track, token FROM %s ORDER BY track`, s.tableName))
	if err != nil {
		return nil, storeError(err, opList)
	}
	defer rows.Close()

	out := make(map[string]cursor.Token)
	for rows.Next() {
		var name, tok string
		if err := rows.Scan(&name, &tok); err != nil {
			return nil, storeError(err, opList)
		}
		out[name] = cursor.Token(tok)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, opList)
	}
	return out, nil
}

// Reset deletes the token of the named track.
func (s *Store) Reset(ctx context.Context, name string) error {
	if err := s.checkOpen(); err != nil {
		return storeError(err, opReset)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE track = ?`, s.tableName), name)
	if err != nil {
		return storeError(err, opReset)
	}
	s.logger.Info("Cursor reset", slog.String("track", name))
	return nil
}

// Stats returns database connection pool statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type track struct {
	store *Store
	name  string
}

func (t track) Get(ctx context.Context) (cursor.Token, bool, error) {
	if err := t.store.checkOpen(); err != nil {
		return "", false, storeError(err, opGet)
	}

	var tok string
	query := fmt.Sprintf(`SELECT token FROM %s WHERE track = ?`, t.store.tableName)
	err := t.store.db.QueryRowContext(ctx, query, t.name).Scan(&tok)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeError(err, opGet)
	}
	return cursor.Token(tok), true, nil
}

func (t track) Set(ctx context.Context, tok cursor.Token) error {
	if tok.IsZero() {
		return storeError(fmt.Errorf("refusing to store empty token for track %q", t.name), opSet)
	}
	if err := t.store.checkOpen(); err != nil {
		return storeError(err, opSet)
	}

	query := fmt.Sprintf(`
    INSERT INTO %s (track, token, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT(track) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`, t.store.tableName)
	if _, err := t.store.db.ExecContext(ctx, query, t.name, string(tok)); err != nil {
		return storeError(err, opSet)
	}
	return nil
}
