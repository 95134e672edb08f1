// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads swarm's YAML configuration.
//
// Configuration comes from a single file named by:
//   - the SWARM_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// never override values in the file; the only expansion is ${VAR} and
// ${VAR:-default} in path fields.
//
// A minimal simulated fleet:
//
//	fleet:
//	  root: home
//	  thread_costs:
//	    swarm-worker: 1.75
//	backend: sim
//	simulation:
//	  nodes:
//	    - id: home
//	      neighbors: [n00dles]
//	      max_capacity: 64
//	      binaries: [swarm-worker]
//	    - id: n00dles
//	      max_capacity: 4
//	      root: true
//	reconcilers:
//	  - name: grind
//	    scope: unowned
//	    program: swarm-worker
//	    target: n00dles
//	    mode: cycle
package config
