// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used by swarm: socket
// requests and responses, operator calls, and ledger records all go
// through it so that every encoder and decoder agrees on the options.
//
// Encoding is Core Deterministic (RFC 8949 section 4.2): the same value
// always produces the same bytes. Types implementing
// encoding.TextMarshaler, such as fleet.OperationKind, are written as
// text strings. Times are RFC 3339 strings with nanoseconds so they
// survive a ledger round trip exactly. Durations are integer
// nanoseconds.
package codec
