// Package mcdb implements a world.Provider storing chunks in a LevelDB
// database. Every chunk is stored as a single zstd compressed record keyed by
// its position.
package mcdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/klauspost/compress/zstd"
)

// ErrReadOnly is returned by DB.Store if the DB was opened read-only.
var ErrReadOnly = errors.New("mcdb: database is read-only")

// Keys on a per-chunk basis. These are prefixed by the chunk coordinates.
const (
	// keyVersion holds a single byte with the version of the chunk record.
	keyVersion = ','
	// keyChunk holds the compressed chunk.
	keyChunk = '/'
)

// chunkVersion is the version of the chunk records written.
const chunkVersion = 1

// DB implements a world.Provider backed by a LevelDB database.
type DB struct {
	conf Config
	dir  string
	ldb  *leveldb.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder

	closed atomic.Bool
}

// Open creates a new DB reading and writing from/to files under the path
// passed using default options.
func Open(dir string) (*DB, error) {
	var conf Config
	return conf.Open(dir)
}

// LDB returns the underlying LevelDB database.
func (db *DB) LDB() *leveldb.DB {
	return db.ldb
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
	key := index(pos)
	b, err := db.ldb.Get(append(key, keyChunk), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read chunk %v: %w", pos, err)
	}
	if v, err := db.ldb.Get(append(key, keyVersion), nil); err == nil && len(v) == 1 && v[0] > chunkVersion {
		return nil, fmt.Errorf("read chunk %v: unsupported version %v", pos, v[0])
	}
	data, err := db.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("read chunk %v: decompress: %w", pos, err)
	}
	return data, nil
}

// Store writes all records passed in a single batch.
func (db *DB) Store(records []world.Record) error {
	if db.conf.ReadOnly {
		return ErrReadOnly
	}
	batch := new(leveldb.Batch)
	for _, r := range records {
		key := index(r.Pos)
		if r.Data == nil {
			batch.Delete(append(key, keyVersion))
			batch.Delete(append(key, keyChunk))
			continue
		}
		batch.Put(append(key, keyVersion), []byte{chunkVersion})
		batch.Put(append(key, keyChunk), db.enc.EncodeAll(r.Data, nil))
	}
	if err := db.ldb.Write(batch, nil); err != nil {
		return fmt.Errorf("write %v chunks: %w", len(records), err)
	}
	return nil
}

// Watch ...
func (db *DB) Watch(cube.ChunkPos) {}

// Unwatch ...
func (db *DB) Unwatch(cube.ChunkPos) {}

// Chunks returns the positions of all chunks stored in the DB.
func (db *DB) Chunks() iter.Seq[cube.ChunkPos] {
	return func(yield func(cube.ChunkPos) bool) {
		it := db.ldb.NewIterator(nil, nil)
		defer it.Release()
		for it.Next() {
			k := it.Key()
			if len(k) != 9 || k[8] != keyChunk {
				continue
			}
			pos := cube.ChunkPos{int32(binary.LittleEndian.Uint32(k)), int32(binary.LittleEndian.Uint32(k[4:]))}
			if !yield(pos) {
				return
			}
		}
	}
}

// Close closes the DB. Calling Close more than once has no effect.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	db.dec.Close()
	if err := db.enc.Close(); err != nil {
		db.conf.Log.Error("close db: zstd: " + err.Error())
	}
	if err := db.ldb.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// index returns the key prefix of a chunk: x and z as little-endian 32 bit
// integers.
func index(pos cube.ChunkPos) []byte {
	b := make([]byte, 8, 9)
	binary.LittleEndian.PutUint32(b, uint32(pos[0]))
	binary.LittleEndian.PutUint32(b[4:], uint32(pos[1]))
	return b
}
