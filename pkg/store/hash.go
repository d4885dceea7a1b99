package store

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
)

// eventHashFields pins the exact field set spec.md's hash formula names:
// record.hash == H(canonicalize({decision_id, seq, at, idempotency_key,
// event, prev_hash})). Every one of those fields is covered so that
// tampering with any of them — including at or idempotency_key alone — is
// detectable by recomputing this hash.
type eventHashFields struct {
	DecisionID     string    `json:"decision_id"`
	Seq            uint64    `json:"seq"`
	At             time.Time `json:"at"`
	IdempotencyKey string    `json:"idempotency_key"`
	Event          any       `json:"event"`
	PrevHash       string    `json:"prev_hash"`
}

// HashRecord computes an event record's hash-chain hash. It is exported so
// pkg/verify can recompute it during chain verification without
// duplicating the field set and risking the two copies drifting apart.
func HashRecord(rec EventRecord) (string, error) {
	return canon.Hash(eventHashFields{
		DecisionID:     rec.DecisionID,
		Seq:            rec.Seq,
		At:             rec.At,
		IdempotencyKey: rec.IdempotencyKey,
		Event:          rec.Event,
		PrevHash:       rec.PrevHash,
	})
}

type anchorHashFields struct {
	Seq             uint64 `json:"seq"`
	DecisionID      string `json:"decision_id"`
	SnapshotUpToSeq uint64 `json:"snapshot_up_to_seq"`
	CheckpointHash  string `json:"checkpoint_hash"`
	RootHash        string `json:"root_hash"`
	StateHash       string `json:"state_hash"`
	PrevHash        string `json:"prev_hash"`
}

// AnchorHash computes an anchor's hash-chain hash. Exported for the same
// reason as HashRecord.
func AnchorHash(a Anchor) (string, error) {
	return canon.Hash(anchorHashFields{
		Seq: a.Seq, DecisionID: a.DecisionID, SnapshotUpToSeq: a.SnapshotUpToSeq,
		CheckpointHash: a.CheckpointHash, RootHash: a.RootHash, StateHash: a.StateHash,
		PrevHash: a.PrevHash,
	})
}

type edgeHashFields struct {
	FromDecisionID string         `json:"from_decision_id"`
	ToDecisionID   string         `json:"to_decision_id"`
	Relation       string         `json:"relation"`
	ViaEventSeq    uint64         `json:"via_event_seq"`
	Meta           map[string]any `json:"meta"`
}

// EdgeHash computes a DecisionEdge's edge_hash over its identifying fields,
// so two LINK_DECISIONS events describing the same link are independently
// verifiable as referring to the same edge.
func EdgeHash(e DecisionEdge) (string, error) {
	return canon.Hash(edgeHashFields{
		FromDecisionID: e.FromDecisionID, ToDecisionID: e.ToDecisionID,
		Relation: e.Relation, ViaEventSeq: e.ViaEventSeq, Meta: e.Meta,
	})
}
