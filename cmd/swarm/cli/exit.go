// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the CLI with Code without printing anything further;
// the command has already written its own output. "swarm status"
// returns one when a reconciler's last tick had failures.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is checked by main to tell handled exits from errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}
