// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// swarm is the operator CLI for a worker fleet. discover, size, and
// batch plan work offline from the configuration file; status, hosts,
// deployments, and batch run talk to a running swarm-fleetd over its
// status socket.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/swarm/cmd/swarm/commands"
)

func main() {
	if err := commands.Root(os.Stdout).Execute(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
