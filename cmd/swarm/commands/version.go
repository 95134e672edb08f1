// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/cmd/swarm/cli"
	"github.com/bureau-foundation/swarm/lib/version"
)

func versionCommand(stdout io.Writer) *cli.Command {
	var digest bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flags.BoolVar(&digest, "digest", false, "also print the BLAKE3 digest of this executable")
			return flags
		},
		Run: func(args []string) error {
			if err := noArguments(args); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(stdout, "swarm %s\n", version.Full()); err != nil {
				return err
			}
			if !digest {
				return nil
			}
			sum, path, err := version.SelfDigest()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(stdout, "  Digest: %s (%s)\n", sum, path)
			return err
		},
	}
}
