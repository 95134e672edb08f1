// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OperationKind is the closed set of remote operations a worker can
// perform against a target node.
type OperationKind uint8

const (
	// Weaken lowers the target's security level.
	Weaken OperationKind = iota + 1
	// Grow raises the target's available resources.
	Grow
	// Exploit extracts resources from the target.
	Exploit
)

// OperationKinds lists every valid kind in declaration order.
var OperationKinds = []OperationKind{Weaken, Grow, Exploit}

func (k OperationKind) String() string {
	switch k {
	case Weaken:
		return "weaken"
	case Grow:
		return "grow"
	case Exploit:
		return "exploit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k OperationKind) Valid() bool {
	return k >= Weaken && k <= Exploit
}

// ParseOperationKind parses the lower-case name of a kind. "hack" is
// accepted as an alias for exploit.
func ParseOperationKind(name string) (OperationKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "weaken":
		return Weaken, nil
	case "grow":
		return Grow, nil
	case "exploit", "hack":
		return Exploit, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", name)
	}
}

// MarshalText encodes the kind by name so it reads naturally in CBOR
// diagnostics, YAML, and JSONC plan files.
func (k OperationKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid operation kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *OperationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOperationKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ErrNoTarget marks a request without a target. The executor treats
// it as a no-op rather than a failure.
var ErrNoTarget = errors.New("operation has no target")

// OperationRequest is one timed remote operation. It is immutable once
// handed to an executor.
//
// ExpectedDuration must equal the true duration of Kind against Target
// at dispatch time. The executor cannot verify this; a wrong estimate
// only weakens the completion-time guarantee.
type OperationRequest struct {
	Target           string        `cbor:"target"`
	Kind             OperationKind `cbor:"kind"`
	StartDelay       time.Duration `cbor:"start_delay"`
	ExpectedDuration time.Duration `cbor:"expected_duration"`
}

// Validate checks the structural fields. A missing target returns
// ErrNoTarget so callers can distinguish it from malformed requests.
func (r OperationRequest) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return ErrNoTarget
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("operation on %s: invalid kind %d", r.Target, uint8(r.Kind))
	}
	if r.StartDelay < 0 {
		return fmt.Errorf("operation on %s: negative start delay %v", r.Target, r.StartDelay)
	}
	if r.ExpectedDuration < 0 {
		return fmt.Errorf("operation on %s: negative expected duration %v", r.Target, r.ExpectedDuration)
	}
	return nil
}

// Landing returns the intended completion offset of the request
// relative to its dispatch: start delay plus expected duration.
func (r OperationRequest) Landing() time.Duration {
	return r.StartDelay + r.ExpectedDuration
}
