// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"strings"
)

// ParseAddress splits a socket address into a network and an address
// for net.Listen and net.Dial.
func ParseAddress(address string) (network, target string, err error) {
	switch {
	case address == "":
		return "", "", fmt.Errorf("empty socket address")
	case strings.HasPrefix(address, "unix://"):
		target = strings.TrimPrefix(address, "unix://")
		network = "unix"
	case strings.HasPrefix(address, "tcp://"):
		target = strings.TrimPrefix(address, "tcp://")
		network = "tcp"
	case strings.Contains(address, "://"):
		return "", "", fmt.Errorf("unsupported socket address %q", address)
	default:
		network, target = "unix", address
	}
	if target == "" {
		return "", "", fmt.Errorf("socket address %q has no path or host", address)
	}
	return network, target, nil
}
