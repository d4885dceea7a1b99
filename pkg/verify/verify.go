// Package verify implements the integrity verifier bundle: hash-chain
// walk, snapshot-anchored verification, Merkle inclusion proof checking,
// anchor receipt self-verification with anti-rollback, provenance chain
// verification, and the composite decision-integrity check that ties all
// of the above together.
package verify

import (
	"context"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/merkle"
	"github.com/mindburn-labs/ledgerkernel/pkg/provenance"
	"github.com/mindburn-labs/ledgerkernel/pkg/store"
)

// Result is the outcome of a single verification pass.
type Result struct {
	OK   bool
	Code ledgererr.Code
	Seq  uint64 // the event/anchor seq the failure was found at, if any
}

func ok() Result { return Result{OK: true} }

func fail(code ledgererr.Code, seq uint64) Result { return Result{OK: false, Code: code, Seq: seq} }

// HashChain walks decisionID's events in seq order, checking monotonicity,
// presence of a hash, and that prev_hash/hash recompute correctly against
// the declared hash-chain fields, per component 4.7's appendEvent
// contract.
func HashChain(ctx context.Context, s store.Store, decisionID string) (Result, error) {
	events, err := s.ListEvents(ctx, decisionID, 1)
	if err != nil {
		return Result{}, err
	}
	return verifyEventTail(events, "", 0)
}

// FromSnapshot anchors verification at snapshot.up_to_seq and
// snapshot.checkpoint_hash: the event hash at that seq must equal
// checkpoint_hash (recomputed if the stored value is absent), then the
// delta tail beyond up_to_seq is verified the same way HashChain does.
func FromSnapshot(ctx context.Context, s store.Store, decisionID string, snap store.Snapshot) (Result, error) {
	anchorRec, ok2, err := s.GetEventRecord(ctx, decisionID, snap.UpToSeq)
	if err != nil {
		return Result{}, err
	}
	if !ok2 {
		return fail(ledgererr.CodeCheckpointEventNotFound, snap.UpToSeq), nil
	}
	if snap.CheckpointHash == "" {
		head, err := s.ListEvents(ctx, decisionID, 1)
		if err != nil {
			return Result{}, err
		}
		prefix := make([]store.EventRecord, 0, len(head))
		for _, rec := range head {
			if rec.Seq > snap.UpToSeq {
				break
			}
			prefix = append(prefix, rec)
		}
		if res, err := verifyEventTail(prefix, "", 0); err != nil || !res.OK {
			return res, err
		}
	} else if anchorRec.Hash != snap.CheckpointHash {
		return fail(ledgererr.CodeCheckpointHashMismatch, snap.UpToSeq), nil
	}

	tail, err := s.ListEvents(ctx, decisionID, snap.UpToSeq+1)
	if err != nil {
		return Result{}, err
	}
	return verifyEventTail(tail, anchorRec.Hash, snap.UpToSeq)
}

func verifyEventTail(events []store.EventRecord, expectPrevHash string, expectAfterSeq uint64) (Result, error) {
	prevHash := expectPrevHash
	prevSeq := expectAfterSeq
	first := expectAfterSeq == 0 && expectPrevHash == ""
	for _, rec := range events {
		if !first && rec.Seq <= prevSeq {
			return fail(ledgererr.CodeNonMonotonicSeq, rec.Seq), nil
		}
		if !first && rec.Seq != prevSeq+1 {
			return fail(ledgererr.CodeNonMonotonicSeq, rec.Seq), nil
		}
		if rec.Hash == "" {
			return fail(ledgererr.CodeMissingHashes, rec.Seq), nil
		}
		if rec.PrevHash != prevHash {
			return fail(ledgererr.CodePrevHashMismatch, rec.Seq), nil
		}
		want, err := store.HashRecord(rec)
		if err != nil {
			return Result{}, err
		}
		if want != rec.Hash {
			return fail(ledgererr.CodeHashMismatch, rec.Seq), nil
		}
		prevHash = rec.Hash
		prevSeq = rec.Seq
		first = false
	}
	return ok(), nil
}

// InclusionProof verifies that proof proves inclusion of the leaf at its
// recorded position within a tree whose root is expectedRoot.
func InclusionProof(proof merkle.InclusionProof, expectedRoot string) bool {
	return merkle.Verify(proof, expectedRoot)
}

// GlobalAnchorChain walks every anchor across every decision in seq order
// and checks that each one's hash-chain fields (prev_hash/hash) and its
// own declared hash recompute correctly, mirroring HashChain's walk of a
// single decision's event tail but over the cross-decision anchor chain
// AppendAnchor maintains.
func GlobalAnchorChain(ctx context.Context, s store.Store) (Result, error) {
	anchors, err := s.AllAnchorsOrdered(ctx)
	if err != nil {
		return Result{}, err
	}
	prevHash := ""
	prevSeq := uint64(0)
	first := true
	for _, a := range anchors {
		if !first && a.Seq != prevSeq+1 {
			return fail(ledgererr.CodeNonMonotonicSeq, a.Seq), nil
		}
		if a.PrevHash != prevHash {
			return fail(ledgererr.CodePrevHashMismatch, a.Seq), nil
		}
		res, err := AnchorReceipt(a, 0)
		if err != nil {
			return Result{}, err
		}
		if !res.OK {
			return res, nil
		}
		prevHash = a.Hash
		prevSeq = a.Seq
		first = false
	}
	return ok(), nil
}

// AnchorReceipt verifies that an anchor's declared hash is correctly
// computable from its fields, and — if pinnedHeadSeq is nonzero —
// that the pinned chain head is at or after the anchor's own seq
// (anti-rollback: a verifier should never accept an anchor claiming to be
// newer than the latest head it was handed).
func AnchorReceipt(a store.Anchor, pinnedHeadSeq uint64) (Result, error) {
	want, err := store.AnchorHash(a)
	if err != nil {
		return Result{}, err
	}
	if want != a.Hash {
		return fail(ledgererr.CodeHashMismatch, a.Seq), nil
	}
	if pinnedHeadSeq != 0 && pinnedHeadSeq < a.Seq {
		return fail(ledgererr.CodeBadGenesisLink, a.Seq), nil
	}
	return ok(), nil
}

// ProvenanceChain verifies d's provenance chain via pkg/provenance's
// walk-and-recompute check.
func ProvenanceChain(d event.Decision) Result {
	if code := provenance.Verify(d.Provenance); code != "" {
		return Result{OK: false, Code: code}
	}
	return ok()
}

// DecisionIntegrity is the composite check component 4.8 calls for: hash
// chain and provenance chain. It does not run the receipt public-hash
// self-check; engine.Apply performs that at the top of every apply.
type DecisionIntegrity struct {
	HashChain  Result
	Provenance Result
}

func (r DecisionIntegrity) OK() bool { return r.HashChain.OK && r.Provenance.OK }

// Decision runs the full composite integrity check for decisionID.
func Decision(ctx context.Context, s store.Store, decisionID string, d event.Decision) (DecisionIntegrity, error) {
	hc, err := HashChain(ctx, s, decisionID)
	if err != nil {
		return DecisionIntegrity{}, err
	}
	return DecisionIntegrity{HashChain: hc, Provenance: ProvenanceChain(d)}, nil
}
