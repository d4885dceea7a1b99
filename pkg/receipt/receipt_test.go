package receipt_test

import (
	"testing"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/receipt"
	"github.com/stretchr/testify/require"
)

// Invariant: receipt_hash is a pure function of the receipt's declared
// fields — the same input produces the same hash, and changing any field
// changes it.
func TestNew_ReceiptHashIsPureAndSensitiveToEveryField(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := receipt.NewReceiptInput{
		DecisionID: "d1", EventSeq: 1, EventType: "VALIDATE",
		ActorID: "actor", ActorType: "human", TrustScore: 0.9, TrustReason: "human actor",
		StateBeforeHash: "b1", StateAfterHash: "a1",
		PublicStateBeforeHash: "pb1", PublicStateAfterHash: "pa1",
		ObligationsHash: "ob1", CreatedAt: now,
	}
	r1, err := receipt.New(in)
	require.NoError(t, err)
	r2, err := receipt.New(in)
	require.NoError(t, err)
	require.Equal(t, r1.ReceiptHash, r2.ReceiptHash)

	in.EventSeq = 2
	r3, err := receipt.New(in)
	require.NoError(t, err)
	require.NotEqual(t, r1.ReceiptHash, r3.ReceiptHash)
}

// Invariant (S8): a decision's public hash must equal its latest receipt's
// public_state_after_hash, checked at the top of every apply.
func TestCheckAgainstDecisionPublicHash(t *testing.T) {
	latest := &receipt.Receipt{PublicStateAfterHash: "ph-1"}
	require.NoError(t, receipt.CheckAgainstDecisionPublicHash("ph-1", latest))

	err := receipt.CheckAgainstDecisionPublicHash("ph-2", latest)
	require.Error(t, err)
	le, ok := err.(*ledgererr.Error)
	require.True(t, ok)
	require.Equal(t, ledgererr.CodeDecisionPublicHashMismatch, le.Code)
}

// Invariant: a nil latest receipt (no prior apply yet) always passes the
// self-check — there is nothing to compare against on the first event.
func TestCheckAgainstDecisionPublicHash_NilLatestAlwaysOK(t *testing.T) {
	require.NoError(t, receipt.CheckAgainstDecisionPublicHash("anything", nil))
}

// Invariant: a legacy receipt with no public hash column falls back to
// comparing against the tamper-hash column.
func TestCheckAgainstDecisionPublicHash_LegacyFallback(t *testing.T) {
	latest := &receipt.Receipt{StateAfterHash: "tamper-1"}
	require.NoError(t, receipt.CheckAgainstDecisionPublicHash("tamper-1", latest))

	err := receipt.CheckAgainstDecisionPublicHash("tamper-2", latest)
	require.Error(t, err)
	le, ok := err.(*ledgererr.Error)
	require.True(t, ok)
	require.Equal(t, ledgererr.CodeDecisionTamperedLegacy, le.Code)
}

// Invariant: TrustScore assigns the documented score/reason per actor
// type and event kind combination.
func TestTrustScore(t *testing.T) {
	cases := []struct {
		actorType event.ActorType
		kind      event.Kind
		hasTrust  bool
		want      float64
	}{
		{event.ActorAgent, event.KindAttachArtifacts, false, 0.2},
		{event.ActorAgent, event.KindAttachArtifacts, true, 0.5},
		{event.ActorService, event.KindValidate, false, 0.8},
		{event.ActorSystem, event.KindValidate, false, 0.8},
		{event.ActorHuman, event.KindApprove, false, 1.0},
		{event.ActorHuman, event.KindValidate, false, 0.9},
	}
	for _, c := range cases {
		score, reason := receipt.TrustScore(c.actorType, c.kind, c.hasTrust)
		require.Equal(t, c.want, score)
		require.NotEmpty(t, reason)
	}
}

// Invariant (PLS): the shield gate enforces owner, approver==actor, and
// signer_state_hash == current tamper hash, in that order.
func TestValidatePLSPreconditions(t *testing.T) {
	require.Equal(t, ledgererr.CodePLSResponsibilityRequired,
		codeOf(t, receipt.ValidatePLSPreconditions("", "a", "a", "h", "h")))
	require.Equal(t, ledgererr.CodePLSApproverRequired,
		codeOf(t, receipt.ValidatePLSPreconditions("owner", "", "a", "h", "h")))
	require.Equal(t, ledgererr.CodePLSApproverActorMismatch,
		codeOf(t, receipt.ValidatePLSPreconditions("owner", "approver", "someone-else", "h", "h")))
	require.Equal(t, ledgererr.CodePLSSignerStateHashRequired,
		codeOf(t, receipt.ValidatePLSPreconditions("owner", "a", "a", "", "h")))
	require.Equal(t, ledgererr.CodePLSSignerStateHashMismatch,
		codeOf(t, receipt.ValidatePLSPreconditions("owner", "a", "a", "wrong", "h")))
	require.NoError(t, receipt.ValidatePLSPreconditions("owner", "a", "a", "h", "h"))
}

func codeOf(t *testing.T, err error) ledgererr.Code {
	t.Helper()
	le, ok := err.(*ledgererr.Error)
	require.True(t, ok)
	return le.Code
}
