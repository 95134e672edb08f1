// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for swarm daemons through
// zombiezen.com/go/sqlite (a cgo-free SQLite).
//
// Every connection gets the same pragmas: WAL journaling, NORMAL
// synchronous writes, a five second busy timeout, and in-memory temp
// storage. A database is versioned with PRAGMA user_version: Open
// applies every entry of Config.Migrations past the stored version, in
// one immediate transaction, before returning.
//
// Connections are borrowed with Take and returned with Put, or used
// for the length of a callback with [Pool.With].
package sqlitepool
