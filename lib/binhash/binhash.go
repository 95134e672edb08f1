// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest.
type Digest [32]byte

// domainKey is the ASCII "swarm.binary" zero-padded to 32 bytes.
var domainKey = [32]byte{
	's', 'w', 'a', 'r', 'm', '.', 'b', 'i', 'n', 'a', 'r', 'y',
}

func newHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("binhash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// Hasher digests a stream incrementally. Write never fails.
type Hasher struct {
	hasher *blake3.Hasher
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher { return &Hasher{hasher: newHasher()} }

func (h *Hasher) Write(p []byte) (int, error) { return h.hasher.Write(p) }

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	var digest Digest
	copy(digest[:], h.hasher.Sum(nil))
	return digest
}

// HashBytes digests data.
func HashBytes(data []byte) Digest {
	hasher := newHasher()
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// HashReader streams r through the hash and returns the digest and
// the number of bytes read.
func HashReader(r io.Reader) (Digest, int64, error) {
	hasher := newHasher()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, n, err
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, n, nil
}

// HashFile digests the file at path.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, _, err := HashReader(file)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// String returns the lower-case hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines.
func (d Digest) Short() string {
	return d.String()[:12]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse decodes a 64-character hex digest.
func Parse(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
