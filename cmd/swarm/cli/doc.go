// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the swarm operator CLI: a
// tree of [Command] values dispatched by name, each with a lazily built
// pflag set, plus the output helpers commands share (aligned tables
// and JSON).
//
// Help is generated from the tree. Unknown commands and flags get a
// did-you-mean suggestion by edit distance.
package cli
