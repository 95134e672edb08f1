// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes content digests of worker binaries and
// saved worker images. Digests are BLAKE3 keyed hashes under a fixed
// domain key, so a binary digest never collides with digests computed
// for other purposes over the same bytes.
//
// The hex form from [Digest.String] is what appears in logs, image
// cache file names, and process listings.
package binhash
