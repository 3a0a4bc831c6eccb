// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-audit is a read-only inspection tool for the audit ledger.
//
// Subcommands:
//
//	list    print a session's entries in chain order
//	verify  re-verify a session's hash chain and signatures
//	stats   per-session entry counts
//
// verify exits 1 when any chain violation is found, so it can gate
// scripts and CI checks.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/lib/audit"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/signing"
	"github.com/warden-foundation/warden/lib/storage"
	"github.com/warden-foundation/warden/lib/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("warden-audit")
		return 0
	}
	if len(os.Args) < 2 {
		printUsage()
		return 2
	}

	command := os.Args[1]
	flagSet := pflag.NewFlagSet("warden-audit "+command, pflag.ContinueOnError)
	stateDir := flagSet.String("state", "", "state directory holding the signing key (required)")
	dbPath := flagSet.String("db", "", "audit database path (default <state>/audit.db)")
	sessionID := flagSet.String("session", "", "session ID")

	if err := flagSet.Parse(os.Args[2:]); err != nil {
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
	if *dbPath == "" {
		*dbPath = *stateDir + "/audit.db"
	}

	log, cleanup, err := openLedger(*stateDir, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer cleanup()

	ctx := context.Background()
	switch command {
	case "list":
		if *sessionID == "" {
			fmt.Fprintln(os.Stderr, "error: list requires --session")
			return 2
		}
		return list(ctx, log, *sessionID)
	case "verify":
		return verify(ctx, log, *sessionID)
	case "stats":
		return stats(ctx, log)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", command)
		printUsage()
		return 2
	}
}

// openLedger opens the audit database and resolves the runtime
// signing key so stored signatures can be checked.
func openLedger(stateDir, dbPath string) (*audit.Log, func(), error) {
	public, private, err := signing.LoadKeypair(stateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading signing key from %s: %w", stateDir, err)
	}

	pool, err := storage.Open(storage.Config{
		Path:      dbPath,
		PoolSize:  1,
		OnConnect: audit.PrepareConn,
	})
	if err != nil {
		return nil, nil, err
	}

	log, err := audit.NewLog(audit.LogConfig{
		PrivateKey: private,
		Keyring:    signing.NewKeyring(public),
		Clock:      clock.Real(),
		Backend:    audit.NewSQLiteBackend(pool),
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return log, func() { pool.Close() }, nil
}

func list(ctx context.Context, log *audit.Log, sessionID string) int {
	entries, err := log.List(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	for _, entry := range entries {
		timestamp := time.Unix(0, entry.Timestamp).UTC().Format(time.RFC3339)
		fmt.Printf("%4d  %s  %-9s  %-12s  %-10s  %s\n",
			entry.Sequence,
			timestamp,
			entry.Outcome.Status,
			entry.Proof.Kind,
			entry.ActionType,
			entry.Resource,
		)
		if entry.Outcome.Detail != "" {
			fmt.Printf("      %s\n", entry.Outcome.Detail)
		}
	}
	return 0
}

func verify(ctx context.Context, log *audit.Log, sessionID string) int {
	reports := map[string]*audit.Report{}
	if sessionID != "" {
		report, err := log.VerifyChain(ctx, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		reports[sessionID] = report
	} else {
		all, err := log.VerifyAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		reports = all
	}

	sessions := make([]string, 0, len(reports))
	for id := range reports {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	corrupt := false
	for _, id := range sessions {
		report := reports[id]
		if report.OK() {
			fmt.Printf("%s: ok (%d entries)\n", id, report.Entries)
			continue
		}
		corrupt = true
		fmt.Printf("%s: CORRUPT (%d entries, %d violations)\n", id, report.Entries, len(report.Violations))
		for _, violation := range report.Violations {
			fmt.Printf("  %s\n", violation)
		}
	}
	if corrupt {
		return 1
	}
	return 0
}

func stats(ctx context.Context, log *audit.Log) int {
	s, err := log.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	sessions := make([]string, 0, len(s.PerSession))
	for id := range s.PerSession {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	for _, id := range sessions {
		fmt.Printf("%s: %d entries\n", id, s.PerSession[id])
	}
	fmt.Printf("total: %d entries across %d sessions\n", s.TotalEntries, s.Sessions)
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: warden-audit <command> --state DIR [flags]

Commands:
  list    --session ID   print a session's entries in chain order
  verify  [--session ID] re-verify hash chains and signatures
  stats                  per-session entry counts

Flags:
  --state DIR   state directory holding the signing key (required)
  --db PATH     audit database path (default <state>/audit.db)`)
}
