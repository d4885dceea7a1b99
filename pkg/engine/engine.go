// Package engine implements the decision engine orchestrator: the single
// applyEvent entry point every event passes through, composing the state
// machine, policy/gate evaluation, obligation engine, provenance chain and
// liability receipt into one transactional operation.
package engine

import (
	"context"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/crypto"
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledger"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/merkle"
	"github.com/mindburn-labs/ledgerkernel/pkg/obligation"
	"github.com/mindburn-labs/ledgerkernel/pkg/policy"
	"github.com/mindburn-labs/ledgerkernel/pkg/provenance"
	"github.com/mindburn-labs/ledgerkernel/pkg/receipt"
	"github.com/mindburn-labs/ledgerkernel/pkg/store"
)

// EngineVersion is stamped onto every counterfactual run record, so a
// replay can tell which engine semantics it was produced under.
const EngineVersion = "ledgerkernel-1"

// Engine wires every subsystem package behind the single applyEvent
// orchestration entry point. Every field is optional except Store; a zero
// Engine behaves as permissively as the gates allow (no RBAC lookup, no
// compliance rules, no approval quorum).
type Engine struct {
	Store          store.Store
	Ring           *crypto.KeyRing
	Ledger         *ledger.Ledger
	Rules          *policy.RuleSet
	Policies       []policy.Policy
	ApprovalGate   policy.ApprovalGate
	RoleLookup     func(decisionID, actorID string) []string
	RBACBypass     bool
	WorkflowBypass bool
	SnapshotEvery  uint64
}

// ApplyInput is one inbound event, already in whatever shape a transport
// decoded it to; Normalize handles the wrapper/case variance.
type ApplyInput struct {
	DecisionID     string
	Raw            map[string]any
	IdempotencyKey string
	Now            time.Time
	TenantID       string
	// RequestPLS asks the engine to construct a personal liability shield
	// when this event is APPROVE or REJECT. It is a no-op for any other
	// kind.
	RequestPLS bool
}

// ApplyResult is everything a caller needs after one successful apply.
type ApplyResult struct {
	Decision       event.Decision
	Receipt        receipt.Receipt
	PLSShield      *receipt.PLSShield
	RiskLiability  *receipt.RiskLiabilitySignature
	Edge           *store.DecisionEdge
	Warnings       []policy.Violation
	Replayed       bool // true if this call short-circuited on an idempotency key
}

func (e *Engine) policies() []policy.Policy {
	if e.Policies != nil {
		return e.Policies
	}
	return policy.DefaultPolicies(policy.SLABlockOnApprove)
}

func (e *Engine) approvalGate() policy.ApprovalGate {
	if e.ApprovalGate != nil {
		return e.ApprovalGate
	}
	return policy.NoopApprovalGate{}
}

func (e *Engine) roleLookup() func(string, string) []string {
	if e.RoleLookup != nil {
		return e.RoleLookup
	}
	return func(string, string) []string { return nil }
}

// Apply normalizes, validates and commits one event against the named
// decision, auto-creating it in DRAFT state on first receipt. It runs
// entirely inside a single store transaction and derives every notion of
// "now" from in.Now, never from a fresh clock read, so replay is
// deterministic.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	evt := event.Normalize(in.Raw)
	if !event.IsKnown(evt.Type) {
		return ApplyResult{}, ledgererr.Newf(ledgererr.CodeInvalidEventType, "unknown event type %q", evt.Type)
	}

	var result ApplyResult
	err := e.Store.WithTx(ctx, func(ctx context.Context) error {
		// Idempotency-key short-circuit runs before anything else —
		// policy, gates and the state transition are all evaluated
		// against current state, which can have moved on since the
		// first call (a newly breached SLA, a since-revoked role); a
		// retried request must still replay its original outcome rather
		// than risk erroring out of step on the second attempt.
		if in.IdempotencyKey != "" {
			if _, ok, err := e.Store.FindEventByIdempotencyKey(ctx, in.DecisionID, in.IdempotencyKey); err != nil {
				return err
			} else if ok {
				cur, _, err := e.Store.GetDecision(ctx, in.DecisionID)
				if err != nil {
					return err
				}
				latest, _, err := e.Store.LatestReceipt(ctx, in.DecisionID)
				if err != nil {
					return err
				}
				result = ApplyResult{Decision: cur, Receipt: latest, Replayed: true}
				return nil
			}
		}

		d, existed, err := e.Store.GetDecision(ctx, in.DecisionID)
		if err != nil {
			return err
		}
		if !existed {
			d = event.NewDraft(in.DecisionID, map[string]any{}, in.Now)
		}

		if latest, ok, err := e.Store.LatestReceipt(ctx, in.DecisionID); err != nil {
			return err
		} else if ok {
			publicHash, err := event.PublicHash(d)
			if err != nil {
				return err
			}
			if err := receipt.CheckAgainstDecisionPublicHash(publicHash, &latest); err != nil {
				return err
			}
		}

		if report := policy.ImmutabilityWindow(d, evt); !report.Passed {
			return blockErr(report.Violations)
		}

		if d.Artifacts.Dispute.Active && !policy.DisputeAllowed(evt.Type) &&
			!d.Obligations.ReferencesObligationOrViolation(evt.Payload) {
			return ledgererr.New(ledgererr.CodeDisputeModeBlock, "decision is in dispute mode")
		}

		if len(d.Obligations.OpenBlockViolations()) > 0 && !event.InRemediationAllowlist(evt.Type) &&
			!d.Obligations.ReferencesObligationOrViolation(evt.Payload) {
			return ledgererr.New(ledgererr.CodeExecutionBlocked, "decision has an open blocking violation")
		}

		next, ok := event.NextState(d.State, evt.Type)
		if !ok {
			// An idempotent kind (VALIDATE/SIMULATE/EXPLAIN) is only a
			// legal no-op re-apply when the decision has already reached
			// the exact state that kind produces — never merely because
			// the kind is in the idempotent set, which would also let an
			// out-of-order jump (e.g. EXPLAIN on a fresh DRAFT decision)
			// through silently instead of failing INVALID_TRANSITION.
			target, idempotent := event.IdempotentTargetState(evt.Type)
			if !idempotent || d.State != target {
				return ledgererr.Newf(ledgererr.CodeInvalidTransition, "cannot apply %s from state %s", evt.Type, d.State)
			}
			next = d.State
		}

		if pr := policy.Evaluate(e.policies(), d, evt, in.Now); !pr.OK {
			return blockErr(pr.Violations)
		} else {
			result.Warnings = append(result.Warnings, pr.Violations...)
		}
		if e.Rules != nil {
			if report := e.Rules.Evaluate(d, evt); !report.Passed {
				return blockErr(report.Violations)
			}
		}
		if report := policy.WorkflowGate(e.WorkflowBypass)(d, evt); !report.Passed {
			return blockErr(report.Violations)
		}
		if report := policy.RBAC(policy.RBACConfig{Bypass: e.RBACBypass, RoleLookup: e.roleLookup()})(d, evt); !report.Passed {
			return blockErr(report.Violations)
		}
		if report := policy.TrustBoundary(d, evt); !report.Passed {
			return blockErr(report.Violations)
		}
		if report := e.approvalGate().Evaluate(d, evt); !report.Passed {
			return blockErr(report.Violations)
		}

		stateBeforeHash, err := event.TamperHash(d)
		if err != nil {
			return err
		}
		publicBeforeHash, err := event.PublicHash(d)
		if err != nil {
			return err
		}

		_, lastSeq, err := e.Store.LastEventHash(ctx, in.DecisionID)
		if err != nil {
			return err
		}
		nextSeq := lastSeq + 1

		nb := d.Clone()
		nb.State = next
		nb.Version = d.Version + 1
		nb.UpdatedAt = in.Now
		nb.Accountability.Record(evt.ActorID, evt.ActorType)
		nb.History = append(nb.History, event.HistoryEntry{
			Seq: nextSeq, EventType: evt.Type, ActorID: evt.ActorID, At: in.Now.UTC().Format(time.RFC3339),
		})

		applyArtifactMutations(&nb, evt, in.Now)
		obligation.Evaluate(&nb.Obligations, in.Now)

		eventHash, err := event.HashEvent(evt)
		if err != nil {
			return err
		}
		stateAfterHash, err := event.TamperHash(nb)
		if err != nil {
			return err
		}
		if _, err := nb.Provenance.Append(provenance.AppendInput{
			DecisionID: in.DecisionID, Seq: nextSeq, At: in.Now,
			EventType: string(evt.Type), ActorID: evt.ActorID, EventHash: eventHash,
			StateBeforeHash: stateBeforeHash, StateAfterHash: stateAfterHash,
			Meta: evt.Meta,
		}); err != nil {
			return err
		}
		if code := provenance.Verify(nb.Provenance); code != "" {
			return ledgererr.New(code, "provenance chain failed verification after append")
		}
		// The public hash covers the decision as persisted, including the
		// provenance node just appended.
		publicAfterHash, err := event.PublicHash(nb)
		if err != nil {
			return err
		}

		obligationsHash, err := receipt.ObligationsHash(nb.Obligations)
		if err != nil {
			return err
		}
		trustScore, trustReason := receipt.TrustScore(evt.ActorType, evt.Type, evt.Trust != nil)
		rec, err := receipt.New(receipt.NewReceiptInput{
			DecisionID: in.DecisionID, EventSeq: nextSeq, EventType: string(evt.Type),
			ActorID: evt.ActorID, ActorType: string(evt.ActorType),
			TrustScore: trustScore, TrustReason: trustReason,
			StateBeforeHash: stateBeforeHash, StateAfterHash: stateAfterHash,
			PublicStateBeforeHash: publicBeforeHash, PublicStateAfterHash: publicAfterHash,
			ObligationsHash: obligationsHash, CreatedAt: in.Now,
		})
		if err != nil {
			return err
		}

		var shield *receipt.PLSShield
		if in.RequestPLS && (evt.Type == event.KindApprove || evt.Type == event.KindReject) {
			s, err := maybeBuildPLSShield(&nb, evt, stateBeforeHash, in.DecisionID, nextSeq, in.Now, rec.ReceiptHash)
			if err != nil {
				return err
			}
			shield = s
		}

		riskSig, err := maybeBuildRiskLiabilitySignature(evt, stateBeforeHash, in.DecisionID, nextSeq, in.Now)
		if err != nil {
			return err
		}

		edge, err := maybeBuildDecisionEdge(evt, in.DecisionID, nextSeq, in.Now)
		if err != nil {
			return err
		}

		stored, existedEvt, err := e.Store.AppendEvent(ctx, store.EventRecord{
			DecisionID: in.DecisionID, At: in.Now, Event: evt, IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		if existedEvt && in.IdempotencyKey != "" && stored.Seq != nextSeq {
			// The early FindEventByIdempotencyKey check above found nothing,
			// but another concurrent call committed the same key between
			// that check and this append. Replay its recorded outcome
			// rather than double-applying; the common sequential-retry case
			// never reaches here since it short-circuits at the top of the
			// transaction.
			cur, _, err := e.Store.GetDecision(ctx, in.DecisionID)
			if err != nil {
				return err
			}
			latest, _, err := e.Store.LatestReceipt(ctx, in.DecisionID)
			if err != nil {
				return err
			}
			result = ApplyResult{Decision: cur, Receipt: latest, Replayed: true}
			return nil
		}

		if err := e.Store.PutDecision(ctx, nb, &d.Version); err != nil {
			return err
		}
		if err := e.Store.PutReceipt(ctx, rec); err != nil {
			return err
		}
		if shield != nil {
			if err := e.Store.PutPLSShield(ctx, *shield); err != nil {
				return err
			}
		}
		if riskSig != nil {
			if err := e.Store.PutRiskLiabilitySignature(ctx, *riskSig); err != nil {
				return err
			}
		}
		if edge != nil {
			if err := e.Store.PutEdge(ctx, *edge); err != nil {
				return err
			}
		}
		if e.SnapshotEvery > 0 && nextSeq%e.SnapshotEvery == 0 {
			if err := e.emitSnapshot(ctx, nb, nextSeq, in.Now); err != nil {
				return err
			}
		}
		if e.Ledger != nil {
			if _, err := e.Ledger.Append(ledger.Entry{
				TenantID: in.TenantID, Type: ledger.EntryDecisionEventAppended,
				DecisionID: in.DecisionID, EventSeq: nextSeq,
			}, in.Now); err != nil {
				return err
			}
		}

		result.Decision = nb
		result.Receipt = rec
		result.PLSShield = shield
		result.RiskLiability = riskSig
		result.Edge = edge
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// Seal applies (or idempotently re-applies) a cryptographic seal over a
// decision's current tamper hash under sealKey, persisting the updated
// signatures array. Re-sealing with the same key replaces the prior
// signature in place rather than appending, per spec.md S7.
func (e *Engine) Seal(ctx context.Context, decisionID, sealKey string, now time.Time) (event.Decision, error) {
	if e.Ring == nil {
		return event.Decision{}, ledgererr.New(ledgererr.CodeSignerIDRequired, "engine has no key ring configured")
	}
	var d event.Decision
	err := e.Store.WithTx(ctx, func(ctx context.Context) error {
		cur, existed, err := e.Store.GetDecision(ctx, decisionID)
		if err != nil {
			return err
		}
		if !existed {
			return ledgererr.Newf(ledgererr.CodeNotFound, "decision %q does not exist", decisionID)
		}
		if err := receipt.Seal(&cur, e.Ring, sealKey, now); err != nil {
			return err
		}
		if err := e.Store.PutDecision(ctx, cur, nil); err != nil {
			return err
		}
		d = cur
		return nil
	})
	if err != nil {
		return event.Decision{}, err
	}
	return d, nil
}

// VerifySeal reports whether decisionID's current, possibly-tampered state
// still matches the signature recorded under sealKey.
func (e *Engine) VerifySeal(ctx context.Context, decisionID, sealKey string) (bool, error) {
	if e.Ring == nil {
		return false, ledgererr.New(ledgererr.CodeSignerIDRequired, "engine has no key ring configured")
	}
	d, existed, err := e.Store.GetDecision(ctx, decisionID)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, ledgererr.Newf(ledgererr.CodeNotFound, "decision %q does not exist", decisionID)
	}
	return receipt.VerifySeal(d, e.Ring, sealKey)
}

func blockErr(violations []policy.Violation) error {
	if len(violations) == 0 {
		return ledgererr.New(ledgererr.CodePolicyViolation, "blocked with no violation detail")
	}
	v := violations[0]
	return ledgererr.New(v.Code, v.Message).WithDetails(v.Details)
}

// maybeBuildPLSShield constructs a personal liability shield for an
// APPROVE/REJECT event against a decision that has an assigned risk owner
// and carries meta.signer_state_hash — the binding that proves the
// approver signed off against the exact state they are deciding on.
func maybeBuildPLSShield(nb *event.Decision, evt event.DecisionEvent, stateBeforeHash, decisionID string, seq uint64, now time.Time, receiptHash string) (*receipt.PLSShield, error) {
	if nb.Risk == nil || nb.Risk.Owner == "" {
		return nil, nil
	}
	signerStateHash, _ := evt.Meta["signer_state_hash"].(string)
	if signerStateHash == "" {
		return nil, nil
	}
	if err := receipt.ValidatePLSPreconditions(nb.Risk.Owner, evt.ActorID, evt.ActorID, signerStateHash, stateBeforeHash); err != nil {
		return nil, err
	}
	s, err := receipt.NewPLSShield(receipt.NewPLSShieldInput{
		DecisionID: decisionID, EventSeq: seq, EventType: string(evt.Type),
		OwnerID: nb.Risk.Owner, ApproverID: evt.ActorID,
		SignerStateHash: signerStateHash, ReceiptHash: receiptHash, CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	nb.Artifacts.LiabilityShield.Shields = append(nb.Artifacts.LiabilityShield.Shields, event.ShieldRef{
		EventSeq: seq, ShieldHash: s.ShieldHash,
	})
	return &s, nil
}

// maybeBuildRiskLiabilitySignature binds a signer to the exact decision
// state they signed against for events that carry meta.signer_state_hash
// but are not themselves the APPROVE/REJECT PLS path — SIGN, ACCEPT_RISK
// and ASSIGN_RESPONSIBILITY are the events that commonly do. meta.signer_id
// defaults to the event's actor id when absent.
func maybeBuildRiskLiabilitySignature(evt event.DecisionEvent, stateBeforeHash, decisionID string, seq uint64, now time.Time) (*receipt.RiskLiabilitySignature, error) {
	if evt.Type == event.KindApprove || evt.Type == event.KindReject {
		return nil, nil
	}
	signerStateHash, _ := evt.Meta["signer_state_hash"].(string)
	if signerStateHash == "" {
		return nil, nil
	}
	signerID, _ := evt.Meta["signer_id"].(string)
	if signerID == "" {
		signerID = evt.ActorID
	}
	if err := receipt.ValidateSignerBinding(signerID, signerStateHash, evt.ActorID, stateBeforeHash); err != nil {
		return nil, err
	}
	sig, err := receipt.NewRiskLiabilitySignature(decisionID, seq, string(evt.Type), signerID, signerStateHash, now)
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// validRelations is the closed set of DecisionEdge relation kinds a
// LINK_DECISIONS payload may name.
var validRelations = map[string]bool{
	string(store.RelDependsOn): true, string(store.RelBlocks): true,
	string(store.RelDuplicates): true, string(store.RelDerivesFrom): true,
	string(store.RelRelatedTo): true,
}

// maybeBuildDecisionEdge turns a LINK_DECISIONS event's payload into a
// DecisionEdge row: payload.to_decision_id and payload.relation are
// required, and relation must be one of the closed set of relation kinds.
func maybeBuildDecisionEdge(evt event.DecisionEvent, decisionID string, seq uint64, now time.Time) (*store.DecisionEdge, error) {
	if evt.Type != event.KindLinkDecisions {
		return nil, nil
	}
	toDecisionID, _ := evt.Payload["to_decision_id"].(string)
	if toDecisionID == "" {
		return nil, ledgererr.New(ledgererr.CodeMissingRequiredFields, "LINK_DECISIONS requires payload.to_decision_id")
	}
	relation, _ := evt.Payload["relation"].(string)
	if !validRelations[relation] {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidRelation, "LINK_DECISIONS relation %q is not a recognized relation", relation)
	}
	var meta map[string]any
	if m, ok := evt.Payload["meta"].(map[string]any); ok {
		meta = m
	}
	edge := store.DecisionEdge{
		FromDecisionID: decisionID, ToDecisionID: toDecisionID, Relation: relation,
		ViaEventSeq: seq, Meta: meta, CreatedAt: now,
	}
	h, err := store.EdgeHash(edge)
	if err != nil {
		return nil, err
	}
	edge.EdgeHash = h
	return &edge, nil
}

func (e *Engine) emitSnapshot(ctx context.Context, d event.Decision, upToSeq uint64, now time.Time) error {
	events, err := e.Store.ListEvents(ctx, d.ID, 1)
	if err != nil {
		return err
	}
	leaves := make([]string, 0, len(events))
	var checkpointHash string
	for _, rec := range events {
		if rec.Seq > upToSeq {
			break
		}
		leaves = append(leaves, rec.Hash)
		if rec.Seq == upToSeq {
			checkpointHash = rec.Hash
		}
	}
	rootHash := merkle.Root(leaves)
	stateHash, err := event.TamperHash(d)
	if err != nil {
		return err
	}
	if err := e.Store.PutSnapshot(ctx, store.Snapshot{
		DecisionID: d.ID, At: now, UpToSeq: upToSeq, Decision: d,
		CheckpointHash: checkpointHash, RootHash: rootHash, StateHash: stateHash,
		ProvenanceTailHash: d.Provenance.LastNodeHash,
	}); err != nil {
		return err
	}
	anchor, err := e.Store.AppendAnchor(ctx, store.Anchor{
		At: now, DecisionID: d.ID, SnapshotUpToSeq: upToSeq,
		CheckpointHash: checkpointHash, RootHash: rootHash, StateHash: stateHash,
	})
	if err != nil {
		return err
	}
	if e.Ledger != nil {
		if _, err := e.Ledger.Append(ledger.Entry{
			Type: ledger.EntrySnapshotCreated, DecisionID: d.ID, SnapshotUpToSeq: upToSeq,
		}, now); err != nil {
			return err
		}
		if _, err := e.Ledger.Append(ledger.Entry{
			Type: ledger.EntryAnchorAppended, DecisionID: d.ID, AnchorSeq: anchor.Seq, SnapshotUpToSeq: upToSeq,
		}, now); err != nil {
			return err
		}
	}
	return nil
}
