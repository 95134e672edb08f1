// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// swarm-fleetd is the fleet daemon. It runs one deployment reconciler
// per configured variant against a simulated fleet or a set of Docker
// engines, persists deployment records to its ledger, and serves the
// status socket the swarm CLI talks to.
//
// With the sim backend and operator_socket set, it also serves the
// operator endpoint that out-of-process workers perform their
// operations through.
//
// Only one daemon may manage a fleet at a time; a second instance
// fails to take the lock file and exits.
package main
