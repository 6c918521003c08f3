package sqlitedb

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
)

func fetch(t *testing.T, p world.Provider, pos cube.ChunkPos) world.FetchResult {
	t.Helper()
	for res := range p.Fetch([]cube.ChunkPos{pos}) {
		return res
	}
	t.Fatalf("no result for %v", pos)
	return world.FetchResult{}
}

func TestStoreAndFetch(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "world", "chunks.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	a, b := cube.ChunkPos{-1, 2}, cube.ChunkPos{40, -40}
	if err := db.Store([]world.Record{{Pos: a, Data: []byte("a")}, {Pos: b, Data: []byte("b")}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := db.Store([]world.Record{{Pos: a, Data: []byte("a2")}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if res := fetch(t, db, a); res.Err != nil || !bytes.Equal(res.Data, []byte("a2")) {
		t.Fatalf("fetch %v = %q, %v", a, res.Data, res.Err)
	}
	if res := fetch(t, db, cube.ChunkPos{0, 0}); !res.Missing() {
		t.Fatalf("chunk never stored is not missing")
	}
	if err := db.Store([]world.Record{{Pos: b}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res := fetch(t, db, b); !res.Missing() {
		t.Fatalf("deleted chunk is not missing")
	}
	if n, err := db.Count(); err != nil || n != 1 {
		t.Fatalf("count = %v, %v, want 1", n, err)
	}
}

func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	if _, err := (Config{ReadOnly: true}).Open(path); err == nil {
		t.Fatalf("read-only open of missing database succeeded")
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pos := cube.ChunkPos{3, 3}
	if err := db.Store([]world.Record{{Pos: pos, Data: []byte{1}}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := (Config{ReadOnly: true}).Open(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	t.Cleanup(func() { _ = ro.Close() })
	if res := fetch(t, ro, pos); !bytes.Equal(res.Data, []byte{1}) {
		t.Fatalf("fetch = %v, %v", res.Data, res.Err)
	}
	if err := ro.Store([]world.Record{{Pos: pos}}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("store on read-only db = %v, want ErrReadOnly", err)
	}
}
