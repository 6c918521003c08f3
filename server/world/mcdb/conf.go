package mcdb

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/klauspost/compress/zstd"
)

// Config holds the optional parameters of a DB.
type Config struct {
	// Log is the Logger used by the DB. If nil, Log is set to slog.Default().
	Log *slog.Logger
	// Compression is the zstd level used to compress chunks. It defaults to
	// zstd.SpeedDefault.
	Compression zstd.EncoderLevel
	// ReadOnly opens the database in read-only mode. Store returns
	// ErrReadOnly for a read-only DB.
	ReadOnly bool
	// LDBOptions holds LevelDB specific default options, such as the block
	// size or the cache size. Compression is always disabled, as chunks are
	// compressed before they are stored.
	LDBOptions *opt.Options
}

// Open creates a new DB reading and writing from/to files under the path
// passed. If a world is present at the path, Open will parse its data and
// initialise the DB with it. If the folder does not exist, it is created.
func (conf Config) Open(dir string) (*DB, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Compression == 0 {
		conf.Compression = zstd.SpeedDefault
	}
	if conf.LDBOptions == nil {
		conf.LDBOptions = new(opt.Options)
	}
	conf.LDBOptions.Compression = opt.NoCompression
	conf.LDBOptions.ReadOnly = conf.ReadOnly
	if conf.LDBOptions.BlockSize == 0 {
		conf.LDBOptions.BlockSize = 16 * opt.KiB
	}

	if !conf.ReadOnly {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, fmt.Errorf("create world folder: %w", err)
		}
	}
	ldb, err := leveldb.OpenFile(dir, conf.LDBOptions)
	if err != nil {
		return nil, fmt.Errorf("open db: leveldb: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(conf.Compression))
	if err != nil {
		_ = ldb.Close()
		return nil, fmt.Errorf("open db: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = ldb.Close()
		_ = enc.Close()
		return nil, fmt.Errorf("open db: zstd decoder: %w", err)
	}
	return &DB{conf: conf, dir: dir, ldb: ldb, enc: enc, dec: dec}, nil
}
