// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

// Socket actions served by swarm-fleetd. The "action" field of a
// request selects one of these.
const (
	ActionStatus        = "status"
	ActionDeployments   = "deployments"
	ActionHosts         = "hosts"
	ActionSize          = "size"
	ActionPlanBatch     = "plan-batch"
	ActionDispatchBatch = "dispatch-batch"
)

// ActionPerform is the single action of the operator socket: perform
// one remote operation and respond once it has completed.
const ActionPerform = "perform"
