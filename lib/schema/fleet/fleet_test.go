// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"errors"
	"testing"
	"time"
)

func TestParseOperationKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input   string
		want    OperationKind
		wantErr bool
	}{
		{"weaken", Weaken, false},
		{"Grow", Grow, false},
		{" exploit ", Exploit, false},
		{"hack", Exploit, false},
		{"share", 0, true},
		{"", 0, true},
	}
	for _, test := range tests {
		got, err := ParseOperationKind(test.input)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseOperationKind(%q) = %v, want error", test.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOperationKind(%q): %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseOperationKind(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestOperationKind_TextRoundTrip(t *testing.T) {
	t.Parallel()
	for _, kind := range OperationKinds {
		text, err := kind.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", kind, err)
		}
		var decoded OperationKind
		if err := decoded.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}
		if decoded != kind {
			t.Errorf("round trip %v = %v", kind, decoded)
		}
	}

	if _, err := OperationKind(0).MarshalText(); err == nil {
		t.Error("MarshalText of zero kind should fail")
	}
}

func TestOperationRequest_Validate(t *testing.T) {
	t.Parallel()
	valid := OperationRequest{Target: "n00dles", Kind: Grow, StartDelay: 5 * time.Millisecond, ExpectedDuration: 40 * time.Millisecond}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request: %v", err)
	}
	if got := valid.Landing(); got != 45*time.Millisecond {
		t.Errorf("Landing() = %v, want 45ms", got)
	}

	noTarget := valid
	noTarget.Target = "  "
	if err := noTarget.Validate(); !errors.Is(err, ErrNoTarget) {
		t.Errorf("empty target: err = %v, want ErrNoTarget", err)
	}

	badKind := valid
	badKind.Kind = 9
	if err := badKind.Validate(); err == nil || errors.Is(err, ErrNoTarget) {
		t.Errorf("invalid kind: err = %v", err)
	}

	negativeDelay := valid
	negativeDelay.StartDelay = -time.Millisecond
	if err := negativeDelay.Validate(); err == nil {
		t.Error("negative start delay should fail validation")
	}
}

func TestCapacity_Free(t *testing.T) {
	t.Parallel()
	if got := (Capacity{Max: 32, Used: 4.5}).Free(); got != 27.5 {
		t.Errorf("Free() = %v, want 27.5", got)
	}
	if got := (Capacity{Max: 8, Used: 9}).Free(); got != 0 {
		t.Errorf("overcommitted Free() = %v, want 0", got)
	}
}

func TestDeployment_Matches(t *testing.T) {
	t.Parallel()
	deployment := Deployment{
		Host:    "rented-0",
		Program: "worker",
		Target:  "joesguns",
		Mode:    "grow",
		Threads: 8,
		Args:    []string{"--target", "joesguns", "--mode", "grow"},
	}
	process := Process{ID: "p1", Program: "worker", Args: []string{"--target", "joesguns", "--mode", "grow"}, Threads: 8}
	if !deployment.Matches(process) {
		t.Error("identical process should match")
	}

	fewerThreads := process
	fewerThreads.Threads = 4
	if deployment.Matches(fewerThreads) {
		t.Error("thread count mismatch should not match")
	}

	otherTarget := process
	otherTarget.Args = []string{"--target", "foodnstuff", "--mode", "grow"}
	if deployment.Matches(otherTarget) {
		t.Error("argument mismatch should not match")
	}
}

func TestHostClassString(t *testing.T) {
	t.Parallel()
	for class, want := range map[HostClass]string{Unowned: "unowned", Rented: "rented", Home: "home", 7: "unknown(7)"} {
		if got := class.String(); got != want {
			t.Errorf("HostClass(%d).String() = %q, want %q", class, got, want)
		}
	}
}
