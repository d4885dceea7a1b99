// Package receipt implements the liability receipt and personal liability
// shield (PLS): the per-event signed audit record binding actor, state
// transition and outstanding obligations.
package receipt

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/obligation"
)

// Receipt is one liability_receipts row.
type Receipt struct {
	DecisionID    string    `json:"decision_id"`
	EventSeq      uint64    `json:"event_seq"`
	EventType     string    `json:"event_type"`
	ActorID       string    `json:"actor_id,omitempty"`
	ActorType     string    `json:"actor_type,omitempty"`
	TrustScore    float64   `json:"trust_score"`
	TrustReason   string    `json:"trust_reason"`
	StateBeforeHash string  `json:"state_before_hash"`
	StateAfterHash  string  `json:"state_after_hash"`
	PublicStateBeforeHash string `json:"public_state_before_hash"`
	PublicStateAfterHash  string `json:"public_state_after_hash"`
	ObligationsHash string  `json:"obligations_hash"`
	CreatedAt     time.Time `json:"created_at"`
	ReceiptHash   string    `json:"receipt_hash"`
}

// ObligationsHash computes H(canonicalize({obligations, violations})).
func ObligationsHash(bag obligation.Bag) (string, error) {
	return canon.Hash(map[string]any{
		"obligations": bag.Obligations,
		"violations":  bag.Violations,
	})
}

// TrustScore is a simple function of actor_type, event_type and the
// presence of a trust envelope. It is deliberately simple: a richer
// risk-scoring model is explicitly out of this core's scope.
func TrustScore(actorType event.ActorType, k event.Kind, hasTrustEnvelope bool) (float64, string) {
	switch {
	case actorType == event.ActorAgent:
		if hasTrustEnvelope {
			return 0.5, "agent actor with trust envelope"
		}
		return 0.2, "agent actor without trust envelope"
	case actorType == event.ActorService || actorType == event.ActorSystem:
		return 0.8, "service/system actor"
	case actorType == event.ActorHuman:
		if k == event.KindApprove || k == event.KindReject {
			return 1.0, "human actor finalizing decision"
		}
		return 0.9, "human actor"
	default:
		return 0.5, "unknown actor type"
	}
}

// NewReceiptInput carries every field required to build a Receipt.
type NewReceiptInput struct {
	DecisionID            string
	EventSeq              uint64
	EventType             string
	ActorID               string
	ActorType             string
	TrustScore            float64
	TrustReason           string
	StateBeforeHash       string
	StateAfterHash        string
	PublicStateBeforeHash string
	PublicStateAfterHash  string
	ObligationsHash       string
	CreatedAt             time.Time
}

// New builds a Receipt and computes its receipt_hash over every other
// field.
func New(in NewReceiptInput) (Receipt, error) {
	r := Receipt{
		DecisionID: in.DecisionID, EventSeq: in.EventSeq, EventType: in.EventType,
		ActorID: in.ActorID, ActorType: in.ActorType,
		TrustScore: in.TrustScore, TrustReason: in.TrustReason,
		StateBeforeHash: in.StateBeforeHash, StateAfterHash: in.StateAfterHash,
		PublicStateBeforeHash: in.PublicStateBeforeHash, PublicStateAfterHash: in.PublicStateAfterHash,
		ObligationsHash: in.ObligationsHash, CreatedAt: in.CreatedAt,
	}
	h, err := canon.Hash(r)
	if err != nil {
		return Receipt{}, err
	}
	r.ReceiptHash = h
	return r, nil
}

// CheckAgainstDecisionPublicHash is the self-check the engine runs before
// accepting a new event: the persisted decision's public hash must equal
// the latest receipt's PublicStateAfterHash.
func CheckAgainstDecisionPublicHash(decisionPublicHash string, latest *Receipt) error {
	if latest == nil {
		return nil
	}
	if latest.PublicStateAfterHash == "" {
		// Legacy row without a public-hash column: fall back to
		// accepting the tamper-hash column under the "public == tamper"
		// candidate semantics documented as the one-time migration path.
		if latest.StateAfterHash != "" && latest.StateAfterHash == decisionPublicHash {
			return nil
		}
		return ledgererr.New(ledgererr.CodeDecisionTamperedLegacy, "legacy receipt has no public hash and tamper hash does not match")
	}
	if latest.PublicStateAfterHash != decisionPublicHash {
		return ledgererr.New(ledgererr.CodeDecisionPublicHashMismatch, "decision public hash does not match latest receipt")
	}
	return nil
}

// PLSShield is one pls_shields row.
type PLSShield struct {
	DecisionID      string    `json:"decision_id"`
	EventSeq        uint64    `json:"event_seq"`
	EventType       string    `json:"event_type"`
	OwnerID         string    `json:"owner_id"`
	ApproverID      string    `json:"approver_id"`
	SignerStateHash string    `json:"signer_state_hash"`
	ReceiptHash     string    `json:"receipt_hash"`
	ShieldHash      string    `json:"shield_hash"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewPLSShieldInput carries the preconditions the engine must have already
// validated before calling NewPLSShield.
type NewPLSShieldInput struct {
	DecisionID      string
	EventSeq        uint64
	EventType       string
	OwnerID         string
	ApproverID      string
	SignerStateHash string
	ReceiptHash     string
	CreatedAt       time.Time
}

// NewPLSShield builds a PLSShield, computing shield_hash over a canonical
// payload that includes receipt_hash.
func NewPLSShield(in NewPLSShieldInput) (PLSShield, error) {
	s := PLSShield{
		DecisionID: in.DecisionID, EventSeq: in.EventSeq, EventType: in.EventType,
		OwnerID: in.OwnerID, ApproverID: in.ApproverID,
		SignerStateHash: in.SignerStateHash, ReceiptHash: in.ReceiptHash, CreatedAt: in.CreatedAt,
	}
	h, err := canon.Hash(s)
	if err != nil {
		return PLSShield{}, err
	}
	s.ShieldHash = h
	return s, nil
}

// ValidatePLSPreconditions enforces the PLS gate: responsibility owner,
// approver id (= event actor), and meta.signer_state_hash equal to the
// tamper hash of the current decision.
func ValidatePLSPreconditions(ownerID, approverID, eventActorID, metaSignerStateHash, currentTamperHash string) error {
	if ownerID == "" {
		return ledgererr.New(ledgererr.CodePLSResponsibilityRequired, "PLS requires a responsibility owner")
	}
	if approverID == "" {
		return ledgererr.New(ledgererr.CodePLSApproverRequired, "PLS requires an approver id")
	}
	if approverID != eventActorID {
		return ledgererr.New(ledgererr.CodePLSApproverActorMismatch, "PLS approver id does not match event actor")
	}
	if metaSignerStateHash == "" {
		return ledgererr.New(ledgererr.CodePLSSignerStateHashRequired, "PLS requires meta.signer_state_hash")
	}
	if metaSignerStateHash != currentTamperHash {
		return ledgererr.New(ledgererr.CodePLSSignerStateHashMismatch, "PLS signer_state_hash does not match current decision state")
	}
	return nil
}

// ValidateSignerBinding enforces the general signer-binding checks used
// outside of PLS (e.g. for SIGN events): signer id present, signer state
// hash present and matching, and signer id matching the event actor.
func ValidateSignerBinding(signerID, signerStateHash, eventActorID, currentTamperHash string) error {
	if signerID == "" {
		return ledgererr.New(ledgererr.CodeSignerIDRequired, "signer id is required")
	}
	if signerStateHash == "" {
		return ledgererr.New(ledgererr.CodeSignerStateHashRequired, "signer_state_hash is required")
	}
	if signerStateHash != currentTamperHash {
		return ledgererr.New(ledgererr.CodeSignerStateHashMismatch, "signer_state_hash does not match current decision state")
	}
	if signerID != eventActorID {
		return ledgererr.New(ledgererr.CodeSignerActorMismatch, "signer id does not match event actor")
	}
	return nil
}

// RiskLiabilitySignature is one risk_liability_signatures row: a general
// signer-binding attestation, distinct from the PLS shield, for events that
// carry meta.signer_state_hash but are not themselves APPROVE/REJECT (SIGN,
// ACCEPT_RISK, ASSIGN_RESPONSIBILITY).
type RiskLiabilitySignature struct {
	DecisionID      string    `json:"decision_id"`
	EventSeq        uint64    `json:"event_seq"`
	EventType       string    `json:"event_type"`
	SignerID        string    `json:"signer_id"`
	SignerStateHash string    `json:"signer_state_hash"`
	SignatureHash   string    `json:"signature_hash"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRiskLiabilitySignature builds a RiskLiabilitySignature, computing
// signature_hash over every other field. Callers must have already run
// ValidateSignerBinding successfully.
func NewRiskLiabilitySignature(decisionID string, eventSeq uint64, eventType, signerID, signerStateHash string, now time.Time) (RiskLiabilitySignature, error) {
	s := RiskLiabilitySignature{
		DecisionID: decisionID, EventSeq: eventSeq, EventType: eventType,
		SignerID: signerID, SignerStateHash: signerStateHash, CreatedAt: now,
	}
	h, err := canon.Hash(s)
	if err != nil {
		return RiskLiabilitySignature{}, err
	}
	s.SignatureHash = h
	return s, nil
}
