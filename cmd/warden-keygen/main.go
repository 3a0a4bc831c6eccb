// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-keygen creates the runtime Ed25519 signing keypair used to
// issue capability tokens and sign audit entries. Keys are written
// into the state directory; with --seal the private key is instead
// encrypted under an age passphrase and only the public key is stored
// in the clear.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/lib/signing"
	"github.com/warden-foundation/warden/lib/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("warden-keygen")
		return 0
	}

	flagSet := pflag.NewFlagSet("warden-keygen", pflag.ContinueOnError)
	stateDir := flagSet.String("state", "", "state directory to write keys into (required)")
	seal := flagSet.Bool("seal", false, "encrypt the private key under a passphrase")
	force := flagSet.Bool("force", false, "overwrite an existing keypair")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if *stateDir == "" {
		fmt.Fprintln(os.Stderr, "error: --state is required")
		return 2
	}

	if !*force {
		if _, _, err := signing.LoadKeypair(*stateDir); err == nil {
			fmt.Fprintf(os.Stderr, "error: keypair already exists in %s (use --force to overwrite)\n", *stateDir)
			return 1
		}
		if *seal && signing.SealedKeyExists(*stateDir) {
			fmt.Fprintf(os.Stderr, "error: sealed key already exists in %s (use --force to overwrite)\n", *stateDir)
			return 1
		}
	}

	public, private, err := signing.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *seal {
		passphrase := os.Getenv("WARDEN_KEY_PASSPHRASE")
		if passphrase == "" {
			fmt.Fprintln(os.Stderr, "error: --seal requires WARDEN_KEY_PASSPHRASE to be set")
			return 2
		}
		if err := signing.SealPrivateKey(*stateDir, passphrase, public, private); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("sealed keypair written to %s\n", *stateDir)
	} else {
		if err := signing.SaveKeypair(*stateDir, public, private); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("keypair written to %s\n", *stateDir)
	}
	fmt.Printf("public key: %s\n", hex.EncodeToString(public))
	return 0
}
