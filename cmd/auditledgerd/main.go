// Command auditledgerd is a minimal wiring entry point for the ledger
// kernel: it opens a store, constructs an engine against it, and drives a
// small demo decision through VALIDATE/SIMULATE/APPROVE so an operator can
// see the package graph wire together end to end. It is not a product
// CLI; use the pkg/engine, pkg/replay and pkg/verify packages directly to
// build one.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/config"
	"github.com/mindburn-labs/ledgerkernel/pkg/crypto"
	"github.com/mindburn-labs/ledgerkernel/pkg/engine"
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledger"
	"github.com/mindburn-labs/ledgerkernel/pkg/policy"
	"github.com/mindburn-labs/ledgerkernel/pkg/store"
	"github.com/mindburn-labs/ledgerkernel/pkg/verify"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.Load()

	ctx := context.Background()

	s, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	if err := s.Init(ctx); err != nil {
		logger.Error("init schema", "err", err)
		os.Exit(1)
	}
	logger.Info("schema initialized", "backend", cfg.Backend)

	if err := s.BackfillHashChain(ctx); err != nil {
		logger.Error("backfill hash chain", "err", err)
		os.Exit(1)
	}

	ring := crypto.NewKeyRing()
	signer, err := crypto.NewEd25519Signer("auditledgerd-demo-key")
	if err != nil {
		logger.Error("generate signer", "err", err)
		os.Exit(1)
	}
	ring.AddKey(signer)

	var enterpriseLedger *ledger.Ledger
	if cfg.LedgerEnabled {
		enterpriseLedger = ledger.New(ring)
	}

	eng := &engine.Engine{
		Store:          s,
		Ring:           ring,
		Ledger:         enterpriseLedger,
		Policies:       policy.DefaultPolicies(slaMode(cfg)),
		RoleLookup: func(decisionID, actorID string) []string {
			roles, err := s.RolesFor(ctx, decisionID, actorID)
			if err != nil {
				return nil
			}
			return roles
		},
		RBACBypass:     cfg.RBACBypass,
		WorkflowBypass: cfg.WorkflowBypass,
		SnapshotEvery:  cfg.SnapshotEvery,
	}

	decisionID := "demo-decision-1"
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.GrantRole(ctx, store.Role{
		DecisionID: decisionID, ActorID: "human-reviewer", Role: "APPROVER", CreatedAt: now,
	}); err != nil {
		logger.Error("grant role", "err", err)
		os.Exit(1)
	}

	steps := []map[string]any{
		{"type": "VALIDATE", "actor_id": "svc-intake", "actor_type": "service", "meta": map[string]any{"title": "demo purchase", "owner_id": "owner-1"}},
		{"type": "SET_AMOUNT", "actor_id": "svc-intake", "actor_type": "service", "payload": map[string]any{"amount": 4200}},
		{"type": "SIMULATE", "actor_id": "svc-intake", "actor_type": "service"},
		// SIGN carries a signer_state_hash binding, filled in below once the
		// decision's tamper hash as of this point is known — this is what
		// populates a risk_liability_signatures row.
		{"type": "SIGN", "actor_id": "human-reviewer", "actor_type": "human"},
		{"type": "APPROVE", "actor_id": "human-reviewer", "actor_type": "human"},
	}

	var last engine.ApplyResult
	for i, raw := range steps {
		if raw["type"] == "SIGN" {
			stateHash, err := event.TamperHash(last.Decision)
			if err != nil {
				logger.Error("compute pre-sign state hash", "err", err)
				os.Exit(1)
			}
			raw["meta"] = map[string]any{"signer_state_hash": stateHash}
		}
		res, err := eng.Apply(ctx, engine.ApplyInput{
			DecisionID: decisionID, Raw: raw, Now: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			logger.Error("apply event", "step", raw["type"], "err", err)
			os.Exit(1)
		}
		last = res
		logger.Info("applied event", "step", raw["type"], "state", last.Decision.State, "receipt_hash", last.Receipt.ReceiptHash)
		if last.RiskLiability != nil {
			logger.Info("risk liability signature recorded", "signature_hash", last.RiskLiability.SignatureHash)
		}
	}

	sealed, err := eng.Seal(ctx, decisionID, "final-seal", now.Add(time.Duration(len(steps))*time.Second))
	if err != nil {
		logger.Error("seal decision", "err", err)
		os.Exit(1)
	}
	sealOK, err := eng.VerifySeal(ctx, decisionID, "final-seal")
	if err != nil {
		logger.Error("verify seal", "err", err)
		os.Exit(1)
	}
	logger.Info("decision sealed", "decision_id", decisionID, "signatures", len(sealed.Signatures), "seal_verified", sealOK)

	integrity, err := verify.Decision(ctx, s, decisionID, last.Decision)
	if err != nil {
		logger.Error("verify decision", "err", err)
		os.Exit(1)
	}
	logger.Info("demo decision complete",
		"decision_id", decisionID, "final_state", last.Decision.State,
		"hash_chain_ok", integrity.HashChain.OK, "provenance_ok", integrity.Provenance.OK,
	)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Backend == "postgres" {
		return store.NewPostgresStore(cfg.PostgresDSN)
	}
	return store.NewSQLiteStore(cfg.SQLitePath)
}

func slaMode(cfg *config.Config) policy.SLAMode {
	if cfg.SLABlockOnApprove {
		return policy.SLABlockOnApprove
	}
	return policy.SLABlockOnAny
}
