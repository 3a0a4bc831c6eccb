// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"

	"github.com/warden-foundation/warden/lib/allowance"
	"github.com/warden-foundation/warden/lib/approval"
	"github.com/warden-foundation/warden/lib/audit"
	"github.com/warden-foundation/warden/lib/budget"
	"github.com/warden-foundation/warden/lib/capability"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/policy"
	"github.com/warden-foundation/warden/lib/signing"
	"github.com/warden-foundation/warden/lib/storage"
)

// Runtime is a fully assembled interception pipeline: the interceptor
// plus the SQLite pools and stores behind it. Built from a
// [config.Config] by [OpenRuntime]; Close releases the pools.
type Runtime struct {
	Interceptor *Interceptor
	Audit       *audit.Log
	Approvals   *approval.Manager

	pools []*storage.Pool
}

// RuntimeConfig carries the per-process parameters that the on-disk
// configuration cannot know.
type RuntimeConfig struct {
	// SessionID names this agent session. Required.
	SessionID string

	// Handler is the approval surface. Nil means every request is
	// deferred to the queue.
	Handler approval.Handler

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Passphrase unseals a sealed signing key. Required when the
	// state directory holds one; ignored otherwise.
	Passphrase string

	// Logger receives operational messages. Nil means no-op.
	Logger *slog.Logger
}

// OpenRuntime opens the databases named in cfg, loads (or generates)
// the runtime signing keypair, loads the policy files, and assembles
// the interception pipeline.
func OpenRuntime(cfg *config.Config, rc RuntimeConfig) (*Runtime, error) {
	if rc.SessionID == "" {
		return nil, fmt.Errorf("runtime: SessionID is required")
	}
	clk := rc.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := rc.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Paths.State, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// A sealed key is the runtime identity; generating a replacement
	// would orphan every prior audit entry and persistent token.
	if signing.SealedKeyExists(cfg.Paths.State) {
		if rc.Passphrase == "" {
			return nil, fmt.Errorf("runtime: signing key in %s is sealed and no passphrase was given", cfg.Paths.State)
		}
		private, err := signing.UnsealPrivateKey(cfg.Paths.State, rc.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("unsealing signing key: %w", err)
		}
		return openRuntime(cfg, rc, clk, logger, private.Public().(ed25519.PublicKey), private)
	}
	public, private, generated, err := signing.LoadOrGenerateKeypair(cfg.Paths.State)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	if generated {
		logger.Info("generated runtime signing keypair", "state", cfg.Paths.State)
	}
	return openRuntime(cfg, rc, clk, logger, public, private)
}

func openRuntime(cfg *config.Config, rc RuntimeConfig, clk clock.Clock, logger *slog.Logger, public ed25519.PublicKey, private ed25519.PrivateKey) (*Runtime, error) {
	keyring := signing.NewKeyring(public)

	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	auditPool, err := storage.Open(storage.Config{
		Path:      cfg.Paths.AuditDatabase,
		PoolSize:  2,
		OnConnect: audit.PrepareConn,
	})
	if err != nil {
		return fail(fmt.Errorf("opening audit database: %w", err))
	}
	rt.pools = append(rt.pools, auditPool)

	capPool, err := storage.Open(storage.Config{
		Path:      cfg.Paths.CapabilityDatabase,
		PoolSize:  2,
		OnConnect: capability.PrepareConn,
	})
	if err != nil {
		return fail(fmt.Errorf("opening capability database: %w", err))
	}
	rt.pools = append(rt.pools, capPool)

	deferredPool, err := storage.Open(storage.Config{
		Path:      cfg.Paths.DeferredDatabase,
		PoolSize:  2,
		OnConnect: approval.PrepareDeferredConn,
	})
	if err != nil {
		return fail(fmt.Errorf("opening deferred database: %w", err))
	}
	rt.pools = append(rt.pools, deferredPool)

	auditLog, err := audit.NewLog(audit.LogConfig{
		PrivateKey: private,
		Keyring:    keyring,
		Clock:      clk,
		Backend:    audit.NewSQLiteBackend(auditPool),
		Logger:     logger,
	})
	if err != nil {
		return fail(err)
	}

	caps, err := capability.NewStore(capability.StoreConfig{
		Keyring: keyring,
		Clock:   clk,
		Durable: capability.NewDurableStore(capPool),
		Logger:  logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := caps.LoadPersistent(context.Background()); err != nil {
		return fail(err)
	}

	allowances, err := allowance.NewStore(clk, logger)
	if err != nil {
		return fail(err)
	}

	approvals, err := approval.NewManager(approval.ManagerConfig{
		Handler:  rc.Handler,
		Clock:    clk,
		Deferred: approval.NewSQLiteDeferredStore(deferredPool),
		Timeout:  cfg.Approval.Timeout(),
		Logger:   logger,
	})
	if err != nil {
		return fail(err)
	}

	provider, err := loadPolicies(cfg.Policy.Files)
	if err != nil {
		return fail(err)
	}

	interceptor, err := New(Config{
		SessionID:     rc.SessionID,
		WorkspaceRoot: cfg.Paths.Workspace,
		Policy:        provider,
		Capabilities:  caps,
		Allowances:    allowances,
		Budget:        budgetFromConfig(cfg.Budget),
		Approvals:     approvals,
		Audit:         auditLog,
		SigningKey:    private,
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		return fail(err)
	}

	rt.Interceptor = interceptor
	rt.Audit = auditLog
	rt.Approvals = approvals
	return rt, nil
}

// Close releases the database pools. Safe to call more than once.
func (r *Runtime) Close() {
	for _, pool := range r.pools {
		pool.Close()
	}
	r.pools = nil
}

func loadPolicies(files []string) (policy.Provider, error) {
	if len(files) == 0 {
		return policy.NewStatic(nil), nil
	}
	providers := make([]policy.Provider, 0, len(files))
	for _, file := range files {
		p, err := policy.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("loading policy %s: %w", file, err)
		}
		providers = append(providers, policy.NewStatic(p))
	}
	return policy.NewLayered(providers...), nil
}

func budgetFromConfig(bc config.BudgetConfig) *budget.ScopedTracker {
	if bc.SessionMax == 0 && bc.WorkspaceMax == 0 && bc.PerAction == 0 {
		return nil
	}
	session := budget.NewTracker("session", budget.Limits{
		Max:           bc.SessionMax,
		PerAction:     bc.PerAction,
		WarnAtPercent: bc.WarnAtPercent,
	})
	workspace := budget.NewTracker("workspace", budget.Limits{
		Max:           bc.WorkspaceMax,
		WarnAtPercent: bc.WarnAtPercent,
	})
	return budget.NewScopedTracker(session, workspace)
}
