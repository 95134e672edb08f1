// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by swarm tests.
//
// The Require* helpers are the only place tests touch the wall clock:
// they bound channel waits so a broken test fails instead of hanging.
// Everything that exercises timing behavior uses lib/clock.Fake.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
package testutil
