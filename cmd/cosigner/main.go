// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command cosigner builds, merges and finalizes multisig PSBTs described by
// output descriptors.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run parses args and executes the selected command, writing its output to
// out and its log output to errOut.
func run(args []string, out, errOut io.Writer) error {
	cfg := newConfig(out, errOut)

	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	if err := addCommands(parser, cfg); err != nil {
		return err
	}

	// Logging is set up once the global options are known and before the
	// command runs.
	parser.CommandHandler = func(command flags.Commander,
		args []string) error {

		if command == nil {
			return nil
		}

		if err := cfg.resolve(); err != nil {
			return err
		}

		cleanup, err := initLogging(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		return command.Execute(args)
	}

	_, err := parser.ParseArgs(args)

	return err
}

// addCommands registers every sub-command on the parser.
func addCommands(parser *flags.Parser, cfg *config) error {
	commands := []struct {
		name  string
		short string
		long  string
		data  flags.Commander
	}{
		{
			name:  "checksum",
			short: "Compute or verify a descriptor checksum",
			long: "Appends the checksum to a descriptor without one, " +
				"or verifies the checksum of a descriptor with one.",
			data: &checksumCommand{cfg: cfg},
		},
		{
			name:  "parse",
			short: "Parse a descriptor and print its properties",
			data:  &parseCommand{cfg: cfg},
		},
		{
			name:  "derive",
			short: "Derive the addresses of a descriptor",
			data:  &deriveCommand{cfg: cfg},
		},
		{
			name:  "combine",
			short: "Combine copies of a PSBT signed by different signers",
			data:  &combineCommand{cfg: cfg},
		},
		{
			name:  "finalize",
			short: "Finalize a PSBT and extract its transaction",
			data:  &finalizeCommand{cfg: cfg},
		},
		{
			name:  "inspect",
			short: "Print the inputs, outputs and signatures of a PSBT",
			data:  &inspectCommand{cfg: cfg},
		},
		{
			name:  "create",
			short: "Create a PSBT spending the wallet's coins",
			long: "Selects coins from the node, builds the PSBT and " +
				"stores it as awaiting signatures. With --dryrun " +
				"the PSBT is only printed.",
			data: &createCommand{cfg: cfg},
		},
		{
			name:  "contribute",
			short: "Merge a signer's copy into a pending PSBT",
			data:  &contributeCommand{cfg: cfg},
		},
		{
			name:  "pending",
			short: "List the pending PSBTs",
			data:  &pendingCommand{cfg: cfg},
		},
		{
			name:  "broadcast",
			short: "Broadcast a complete PSBT and forget it",
			data:  &broadcastCommand{cfg: cfg},
		},
		{
			name:  "discard",
			short: "Forget a pending PSBT",
			data:  &discardCommand{cfg: cfg},
		},
	}

	for _, c := range commands {
		long := c.long
		if long == "" {
			long = c.short
		}

		_, err := parser.AddCommand(c.name, c.short, long, c.data)
		if err != nil {
			return fmt.Errorf("add command %s: %w", c.name, err)
		}
	}

	return nil
}
