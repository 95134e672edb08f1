// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet defines the swarm data model shared by the executor,
// the batch coordinator, the reconciler, and the socket protocols:
// nodes and their capacity, running processes, worker deployments,
// and timed operation requests.
//
// Types that cross a socket carry cbor tags. Durations are encoded as
// integer nanoseconds.
package fleet
