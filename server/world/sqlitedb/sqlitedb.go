// Package sqlitedb implements a world.Provider storing chunks in a single
// SQLite database file.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
	_ "modernc.org/sqlite"
)

// ErrReadOnly is returned by DB.Store if the DB was opened read-only.
var ErrReadOnly = errors.New("sqlitedb: database is read-only")

// Config holds the settings of a DB.
type Config struct {
	// ReadOnly opens the database read-only. Store returns ErrReadOnly.
	ReadOnly bool
}

// DB implements a world.Provider backed by SQLite.
type DB struct {
	conf Config
	db   *sql.DB

	closed atomic.Bool
}

// Open opens the database at path using the default Config.
func Open(path string) (*DB, error) {
	var conf Config
	return conf.Open(path)
}

// Open opens the database at path, creating it and its parent directories if
// they do not exist.
func (conf Config) Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite db: empty path")
	}
	dsn := path
	if conf.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		dsn = "file:" + path + "?mode=ro"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db, conf.ReadOnly); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if !conf.ReadOnly {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (x, z)
		);`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
	}
	return &DB{conf: conf, db: db}, nil
}

func initPragmas(db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	if !readOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// Fetch ...
func (db *DB) Fetch(positions []cube.ChunkPos) iter.Seq[world.FetchResult] {
	return func(yield func(world.FetchResult) bool) {
		for _, pos := range positions {
			data, err := db.load(pos)
			if !yield(world.FetchResult{Pos: pos, Data: data, Err: err}) {
				return
			}
		}
	}
}

func (db *DB) load(pos cube.ChunkPos) ([]byte, error) {
	var data []byte
	err := db.db.QueryRow(`SELECT data FROM chunks WHERE x = ? AND z = ?`, pos[0], pos[1]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		// A read-only database that never had chunks written has no table.
		if db.conf.ReadOnly && !db.hasTable() {
			return nil, nil
		}
		return nil, fmt.Errorf("read chunk %v: %w", pos, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (db *DB) hasTable() bool {
	var n int
	err := db.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'chunks'`).Scan(&n)
	return err == nil && n > 0
}

// Store writes all records in a single transaction.
func (db *DB) Store(records []world.Record) error {
	if db.conf.ReadOnly {
		return ErrReadOnly
	}
	tx, err := db.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.Prepare(`INSERT INTO chunks (x, z, data) VALUES (?, ?, ?)
		ON CONFLICT(x, z) DO UPDATE SET data = excluded.data`)
	if err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	defer upsert.Close()
	remove, err := tx.Prepare(`DELETE FROM chunks WHERE x = ? AND z = ?`)
	if err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	defer remove.Close()

	for _, rec := range records {
		if rec.Data == nil {
			_, err = remove.Exec(rec.Pos[0], rec.Pos[1])
		} else {
			_, err = upsert.Exec(rec.Pos[0], rec.Pos[1], rec.Data)
		}
		if err != nil {
			return fmt.Errorf("write chunk %v: %w", rec.Pos, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	return nil
}

// Count returns the amount of chunks stored.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.db.QueryRow(`SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Watch ...
func (db *DB) Watch(cube.ChunkPos) {}

// Unwatch ...
func (db *DB) Unwatch(cube.ChunkPos) {}

// Close closes the database. Close is idempotent.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	return db.db.Close()
}
