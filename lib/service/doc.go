// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements swarm's request/response socket protocol.
//
// Each connection carries exactly one exchange: the client writes one
// CBOR map containing an "action" field plus action-specific fields,
// the server dispatches on the action and writes one [Response]
// envelope, and the connection closes. CBOR values are self-delimiting,
// so there is no framing.
//
// Servers listen on a Unix socket (the daemon's status socket) or a
// TCP address (the operator endpoint reached from worker containers).
// Addresses are written as a bare path, "unix://path", or
// "tcp://host:port".
package service
