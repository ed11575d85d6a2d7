package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteConfig holds the parameters for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file. Its directory is created if missing.
	Path string `env:"PATH" envDefault:"data/ticketing.db"`
	// PoolSize is the number of connections. SQLite serialises writers
	// regardless; extra connections serve concurrent reads.
	PoolSize int `env:"POOL_SIZE" envDefault:"4"`
}

// SQLitePool is a fixed-size pool of SQLite connections with the ticketing
// schema applied. Connections are not safe for concurrent use: Take one per
// goroutine and Put it back.
type SQLitePool struct {
	inner *sqlitex.Pool
	path  string
	log   zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig, log zerolog.Logger) (*SQLitePool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create %s: %w", dir, err)
		}
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	log.Info().Str("path", cfg.Path).Int("pool_size", size).Msg("sqlite pool opened")
	return &SQLitePool{inner: inner, path: cfg.Path, log: log}, nil
}

// Take borrows a connection. The caller must Put it back.
func (p *SQLitePool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *SQLitePool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes every connection, blocking until borrowed ones are returned.
func (p *SQLitePool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.log.Error().Err(err).Str("path", p.path).Msg("sqlite pool close error")
		return fmt.Errorf("sqlite: closing %s: %w", p.path, err)
	}
	p.log.Info().Str("path", p.path).Msg("sqlite pool closed")
	return nil
}

// prepareConn applies pragmas and the schema once per connection.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}
