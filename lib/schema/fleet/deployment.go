// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"slices"
	"time"
)

// Deployment records that a host runs Threads threads of Program
// against Target in Mode. It is created by the reconciler that
// launched the worker and is never modified by anyone else.
//
// CapacityAtDeploy is the host's maximum capacity when the worker was
// launched. A later reading above it marks the deployment stale.
type Deployment struct {
	Host             string    `cbor:"host"`
	Program          string    `cbor:"program"`
	Target           string    `cbor:"target"`
	Mode             string    `cbor:"mode"`
	Threads          int       `cbor:"threads"`
	Args             []string  `cbor:"args"`
	CapacityAtDeploy float64   `cbor:"capacity_at_deploy"`
	Process          ProcessID `cbor:"process,omitempty"`
	DeployedAt       time.Time `cbor:"deployed_at"`
}

// Matches reports whether p is the worker this deployment describes:
// same program, same arguments, same thread count.
func (d Deployment) Matches(p Process) bool {
	return p.Program == d.Program &&
		p.Threads == d.Threads &&
		slices.Equal(p.Args, d.Args)
}
