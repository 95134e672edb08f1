// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/swarm/lib/binhash"
)

func archive() []byte {
	// Repetitive enough to compress, like tar padding.
	return bytes.Repeat([]byte("layer.tar\x00\x00\x00\x00swarm-worker\n"), 4096)
}

func TestStoreAndOpen(t *testing.T) {
	for _, compression := range []Compression{Zstd, LZ4} {
		t.Run(string(compression), func(t *testing.T) {
			cache, err := New(t.TempDir(), compression)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			data := archive()

			entry, err := cache.Store("registry.local/swarm-worker:1", "sha256:aaa", bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			if entry.Digest != binhash.HashBytes(data) {
				t.Errorf("digest = %s, want digest of the uncompressed stream", entry.Digest.Short())
			}
			if entry.Size != int64(len(data)) {
				t.Errorf("Size = %d, want %d", entry.Size, len(data))
			}
			if entry.Stored <= 0 || entry.Stored >= entry.Size {
				t.Errorf("Stored = %d, want compressed below %d", entry.Stored, entry.Size)
			}

			found, ok, err := cache.Lookup("registry.local/swarm-worker:1", "sha256:aaa")
			if err != nil || !ok {
				t.Fatalf("Lookup = %v, %v", ok, err)
			}
			if found.Digest != entry.Digest || found.Compression != compression {
				t.Errorf("Lookup entry = %+v", found)
			}

			reader, err := cache.Open(found)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer reader.Close()
			got, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("reading archive: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("round-tripped archive differs")
			}
		})
	}
}

func TestLookupMisses(t *testing.T) {
	cache, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cache.Lookup("swarm-worker", "sha256:aaa"); ok || err != nil {
		t.Errorf("empty cache Lookup = %v, %v", ok, err)
	}
	if _, err := cache.Store("swarm-worker", "sha256:aaa", bytes.NewReader(archive())); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cache.Lookup("swarm-worker", "sha256:bbb"); ok {
		t.Error("entry from a rebuilt image was reused")
	}
	if err := cache.Remove("swarm-worker"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := cache.Lookup("swarm-worker", "sha256:aaa"); ok {
		t.Error("removed entry still found")
	}
	if err := cache.Remove("swarm-worker"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestOpenDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir, LZ4)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := cache.Store("swarm-worker", "sha256:aaa", bytes.NewReader(archive()))
	if err != nil {
		t.Fatal(err)
	}

	// Replace the object with a valid stream of different content.
	other, err := New(t.TempDir(), LZ4)
	if err != nil {
		t.Fatal(err)
	}
	impostor, err := other.Store("swarm-worker", "x", strings.NewReader("not the archive"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(other.objectPath(impostor.Digest, LZ4))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cache.objectPath(entry.Digest, LZ4), data, 0o644); err != nil {
		t.Fatal(err)
	}

	reader, err := cache.Open(entry)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	if _, err := io.ReadAll(reader); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadAll = %v, want ErrCorrupt", err)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir, Zstd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Store("swarm-worker", "v1", strings.NewReader("first build")); err != nil {
		t.Fatal(err)
	}
	// A rebuilt image replaces the index entry and orphans v1's object.
	current, err := cache.Store("swarm-worker", "v2", strings.NewReader("second build"))
	if err != nil {
		t.Fatal(err)
	}

	removed, err := cache.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d objects, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "objects", current.Digest.String()+".tar.zst")); err != nil {
		t.Errorf("current object pruned: %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	if c, err := ParseCompression(""); err != nil || c != Zstd {
		t.Errorf(`ParseCompression("") = %q, %v`, c, err)
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("gzip accepted")
	}
	if _, err := New(t.TempDir(), "brotli"); err == nil {
		t.Error("New accepted unknown compression")
	}
}
