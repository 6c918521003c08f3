package anvil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"
)

const (
	sectorSize      = 4096
	headerSectors   = 2 // location table + timestamp table
	compressionZlib = 2
	maxSectors      = 255
)

// ErrChunkTooLarge is returned when a compressed chunk does not fit in the
// 255 sectors a region file can address for a single chunk.
var ErrChunkTooLarge = errors.New("anvil: chunk too large")

// region is an open region file holding up to 32x32 chunks. Every chunk
// occupies a run of 4 KiB sectors referenced from the location table in the
// first sector of the file.
type region struct {
	mu         sync.Mutex
	f          file
	locations  [1024]uint32
	timestamps [1024]uint32
	used       []bool
}

// file is the storage of a region. It is implemented by *os.File.
type file interface {
	io.ReaderAt
	io.WriterAt
	Stat() (os.FileInfo, error)
	Close() error
}

// openRegion opens the region file at path. If create is false and the file
// does not exist, os.ErrNotExist is returned.
func openRegion(path string, create, readOnly bool) (*region, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	if create && !readOnly {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	r := &region{f: f}
	if err := r.readHeader(readOnly); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open region %v: %w", path, err)
	}
	return r, nil
}

func (r *region) readHeader(readOnly bool) error {
	info, err := r.f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < headerSectors*sectorSize {
		// New or truncated file: start with an empty header.
		r.used = []bool{true, true}
		if readOnly {
			return nil
		}
		_, err := r.f.WriteAt(make([]byte, headerSectors*sectorSize), 0)
		return err
	}
	header := make([]byte, headerSectors*sectorSize)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, 0, int64(len(header))), header); err != nil {
		return err
	}
	sectors := int((info.Size() + sectorSize - 1) / sectorSize)
	r.used = make([]bool, sectors)
	r.used[0], r.used[1] = true, true
	for i := range r.locations {
		loc := binary.BigEndian.Uint32(header[i*4:])
		r.timestamps[i] = binary.BigEndian.Uint32(header[sectorSize+i*4:])
		offset, count := int(loc>>8), int(loc&0xff)
		if loc == 0 || offset < headerSectors || offset+count > sectors {
			continue
		}
		r.locations[i] = loc
		for s := offset; s < offset+count; s++ {
			r.used[s] = true
		}
	}
	return nil
}

// read returns the decompressed chunk at index i, or nil if the chunk is not
// present.
func (r *region) read(i int) ([]byte, error) {
	r.mu.Lock()
	loc := r.locations[i]
	if loc == 0 {
		r.mu.Unlock()
		return nil, nil
	}
	offset, count := int64(loc>>8), int64(loc&0xff)
	buf := make([]byte, count*sectorSize)
	_, err := r.f.ReadAt(buf, offset*sectorSize)
	r.mu.Unlock()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	length := int64(binary.BigEndian.Uint32(buf))
	if length < 1 || length+4 > int64(len(buf)) {
		return nil, fmt.Errorf("invalid chunk length %v", length)
	}
	if buf[4] != compressionZlib {
		return nil, fmt.Errorf("unsupported compression %v", buf[4])
	}
	zr, err := zlib.NewReader(bytes.NewReader(buf[5 : 4+length]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// write stores data as the chunk at index i. A nil data removes the chunk.
func (r *region) write(i int, data []byte) error {
	var payload []byte
	if data != nil {
		var buf bytes.Buffer
		buf.Write(make([]byte, 5))
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
		binary.BigEndian.PutUint32(payload, uint32(len(payload)-4))
		payload[4] = compressionZlib
	}
	count := (len(payload) + sectorSize - 1) / sectorSize
	if count > maxSectors {
		return ErrChunkTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// The old sectors stay in use until the location on disk no longer
	// points at them.
	var loc uint32
	if count > 0 {
		loc = uint32(r.allocate(count))<<8 | uint32(count)
		padded := make([]byte, count*sectorSize)
		copy(padded, payload)
		if _, err := r.f.WriteAt(padded, int64(loc>>8)*sectorSize); err != nil {
			r.mark(loc, false)
			return err
		}
	}
	var entry [4]byte
	binary.BigEndian.PutUint32(entry[:], loc)
	if _, err := r.f.WriteAt(entry[:], int64(i)*4); err != nil {
		r.mark(loc, false)
		return err
	}
	r.mark(r.locations[i], false)
	r.locations[i] = loc

	now := uint32(time.Now().Unix())
	binary.BigEndian.PutUint32(entry[:], now)
	if _, err := r.f.WriteAt(entry[:], sectorSize+int64(i)*4); err != nil {
		return fmt.Errorf("write timestamp: %w", err)
	}
	r.timestamps[i] = now
	return nil
}

// mark sets the used state of the sectors of location loc.
func (r *region) mark(loc uint32, used bool) {
	offset, count := int(loc>>8), int(loc&0xff)
	for s := offset; s < offset+count; s++ {
		r.used[s] = used
	}
}

// allocate marks the first run of count free sectors as used and returns its
// offset. The file grows if no such run exists.
func (r *region) allocate(count int) int {
	run := 0
	for s := headerSectors; s < len(r.used); s++ {
		if r.used[s] {
			run = 0
			continue
		}
		if run++; run == count {
			start := s - count + 1
			for j := start; j <= s; j++ {
				r.used[j] = true
			}
			return start
		}
	}
	start := len(r.used) - run
	for len(r.used) < start+count {
		r.used = append(r.used, false)
	}
	for j := start; j < start+count; j++ {
		r.used[j] = true
	}
	return start
}

func (r *region) close() error {
	return r.f.Close()
}
