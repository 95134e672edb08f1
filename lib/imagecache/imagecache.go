// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagecache keeps compressed copies of worker image archives
// saved from the home engine, so transferring a worker to many hosts
// exports the image once.
//
// Archives are stored content-addressed under their BLAKE3 digest
// (of the uncompressed stream) and indexed by program name together
// with the source image ID the archive was saved from. A rebuilt image
// has a new source ID, which invalidates the entry.
//
//	<dir>/objects/<digest>.tar.zst
//	<dir>/index/<escaped program>.cbor
package imagecache

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/swarm/lib/binhash"
	"github.com/bureau-foundation/swarm/lib/codec"
)

// Compression selects the archive codec.
type Compression string

const (
	// Zstd compresses at the default level. Better ratio; image layers
	// are mostly executables and shared libraries.
	Zstd Compression = "zstd"
	// LZ4 trades ratio for speed.
	LZ4 Compression = "lz4"
)

// ParseCompression validates a configured compression name.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case Zstd, LZ4:
		return Compression(name), nil
	case "":
		return Zstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

func (c Compression) extension() string {
	if c == LZ4 {
		return ".tar.lz4"
	}
	return ".tar.zst"
}

// ErrCorrupt is returned from a reader when the decompressed stream
// does not match the recorded digest.
var ErrCorrupt = errors.New("cached archive does not match its digest")

// Entry describes one cached archive.
type Entry struct {
	Program     string         `cbor:"program"`
	Source      string         `cbor:"source"`
	Digest      binhash.Digest `cbor:"digest"`
	Size        int64          `cbor:"size"`
	Stored      int64          `cbor:"stored"`
	Compression Compression    `cbor:"compression"`
	StoredAt    time.Time      `cbor:"stored_at"`
}

// Cache is a directory of compressed archives. Safe for concurrent
// use by one process; writes land through rename.
type Cache struct {
	dir         string
	compression Compression
}

// New opens or creates a cache rooted at dir.
func New(dir string, compression Compression) (*Cache, error) {
	if compression == "" {
		compression = Zstd
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}
	for _, sub := range []string{"objects", "index"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating image cache: %w", err)
		}
	}
	return &Cache{dir: dir, compression: compression}, nil
}

func (c *Cache) indexPath(program string) string {
	return filepath.Join(c.dir, "index", url.PathEscape(program)+".cbor")
}

func (c *Cache) objectPath(digest binhash.Digest, compression Compression) string {
	return filepath.Join(c.dir, "objects", digest.String()+compression.extension())
}

// Lookup returns the entry for program if one was stored from source.
// An entry from a different source, or whose object has gone missing,
// reports false.
func (c *Cache) Lookup(program, source string) (Entry, bool, error) {
	data, err := os.ReadFile(c.indexPath(program))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading image cache index: %w", err)
	}
	var entry Entry
	if err := codec.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decoding image cache index for %s: %w", program, err)
	}
	if entry.Source != source {
		return Entry{}, false, nil
	}
	if _, err := os.Stat(c.objectPath(entry.Digest, entry.Compression)); err != nil {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Store compresses archive into the cache and indexes it under
// program and source.
func (c *Cache) Store(program, source string, archive io.Reader) (Entry, error) {
	temp, err := os.CreateTemp(filepath.Join(c.dir, "objects"), ".incoming-*")
	if err != nil {
		return Entry{}, fmt.Errorf("creating image cache object: %w", err)
	}
	defer os.Remove(temp.Name())
	defer temp.Close()

	compressor, err := c.newWriter(temp)
	if err != nil {
		return Entry{}, err
	}
	hasher := binhash.NewHasher()
	size, err := io.Copy(io.MultiWriter(compressor, hasher), archive)
	if err != nil {
		compressor.Close()
		return Entry{}, fmt.Errorf("compressing %s archive: %w", program, err)
	}
	if err := compressor.Close(); err != nil {
		return Entry{}, fmt.Errorf("finishing %s archive: %w", program, err)
	}
	stored, err := temp.Seek(0, io.SeekCurrent)
	if err != nil {
		return Entry{}, err
	}
	if err := temp.Sync(); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Program:     program,
		Source:      source,
		Digest:      hasher.Sum(),
		Size:        size,
		Stored:      stored,
		Compression: c.compression,
		StoredAt:    time.Now().UTC(),
	}
	if err := os.Rename(temp.Name(), c.objectPath(entry.Digest, entry.Compression)); err != nil {
		return Entry{}, fmt.Errorf("storing image cache object: %w", err)
	}
	if err := c.writeIndex(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (c *Cache) writeIndex(entry Entry) error {
	data, err := codec.Marshal(entry)
	if err != nil {
		return err
	}
	path := c.indexPath(entry.Program)
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return fmt.Errorf("writing image cache index: %w", err)
	}
	return os.Rename(temp, path)
}

// Open returns the decompressed archive of entry. Reading to EOF
// verifies the digest; a mismatch surfaces as ErrCorrupt from Read.
func (c *Cache) Open(entry Entry) (io.ReadCloser, error) {
	file, err := os.Open(c.objectPath(entry.Digest, entry.Compression))
	if err != nil {
		return nil, fmt.Errorf("opening cached archive for %s: %w", entry.Program, err)
	}
	var decompressed io.Reader
	var release func()
	switch entry.Compression {
	case LZ4:
		decompressed = lz4.NewReader(file)
		release = func() {}
	default:
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		decompressed = decoder
		release = decoder.Close
	}
	return &verifyingReader{
		reader:  decompressed,
		hasher:  binhash.NewHasher(),
		want:    entry.Digest,
		release: release,
		file:    file,
	}, nil
}

// Remove drops the index entry for program. Objects are left for
// Prune.
func (c *Cache) Remove(program string) error {
	err := os.Remove(c.indexPath(program))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Prune deletes objects no index entry references and returns how
// many were removed.
func (c *Cache) Prune() (int, error) {
	referenced := make(map[string]bool)
	indexes, err := os.ReadDir(filepath.Join(c.dir, "index"))
	if err != nil {
		return 0, err
	}
	for _, index := range indexes {
		data, err := os.ReadFile(filepath.Join(c.dir, "index", index.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if codec.Unmarshal(data, &entry) == nil {
			referenced[filepath.Base(c.objectPath(entry.Digest, entry.Compression))] = true
		}
	}

	objects, err := os.ReadDir(filepath.Join(c.dir, "objects"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, object := range objects {
		if referenced[object.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, "objects", object.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (c *Cache) newWriter(w io.Writer) (io.WriteCloser, error) {
	if c.compression == LZ4 {
		return lz4.NewWriter(w), nil
	}
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return encoder, nil
}

type verifyingReader struct {
	reader  io.Reader
	hasher  *binhash.Hasher
	want    binhash.Digest
	release func()
	file    *os.File
}

func (r *verifyingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.hasher.Write(p[:n])
	if errors.Is(err, io.EOF) && r.hasher.Sum() != r.want {
		return n, ErrCorrupt
	}
	return n, err
}

func (r *verifyingReader) Close() error {
	r.release()
	return r.file.Close()
}
