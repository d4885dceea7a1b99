// Package store implements the append-only persistence substrate: decisions,
// hash-chained events, snapshots, anchors, liability receipts, PLS shields,
// decision edges and roles, behind a common interface with SQLite
// (default, embedded) and Postgres (production) backends.
package store

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/receipt"
)

// EventRecord is the persisted form of a DecisionEvent.
type EventRecord struct {
	DecisionID     string              `json:"decision_id"`
	Seq            uint64              `json:"seq"`
	At             time.Time           `json:"at"`
	Event          event.DecisionEvent `json:"event"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	PrevHash       string              `json:"prev_hash,omitempty"`
	Hash           string              `json:"hash"`
}

// Snapshot is a cached decision at a given sequence with checkpoint and
// Merkle root.
type Snapshot struct {
	DecisionID         string         `json:"decision_id"`
	SnapshotID         string         `json:"snapshot_id"`
	At                 time.Time      `json:"at"`
	UpToSeq            uint64         `json:"up_to_seq"`
	Decision           event.Decision `json:"decision"`
	CheckpointHash     string         `json:"checkpoint_hash"`
	RootHash           string         `json:"root_hash,omitempty"`
	StateHash          string         `json:"state_hash"`
	ProvenanceTailHash string         `json:"provenance_tail_hash,omitempty"`
}

// Anchor is a row in the global (cross-decision) anchor chain.
type Anchor struct {
	Seq             uint64    `json:"seq"`
	At              time.Time `json:"at"`
	DecisionID      string    `json:"decision_id"`
	SnapshotUpToSeq uint64    `json:"snapshot_up_to_seq"`
	CheckpointHash  string    `json:"checkpoint_hash"`
	RootHash        string    `json:"root_hash,omitempty"`
	StateHash       string    `json:"state_hash"`
	PrevHash        string    `json:"prev_hash,omitempty"`
	Hash            string    `json:"hash"`
}

// DecisionEdge is a directed link between two decisions.
type DecisionEdge struct {
	FromDecisionID string         `json:"from_decision_id"`
	ToDecisionID   string         `json:"to_decision_id"`
	Relation       string         `json:"relation"`
	ViaEventSeq    uint64         `json:"via_event_seq,omitempty"`
	EdgeHash       string         `json:"edge_hash"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Relation is the closed set of DecisionEdge relation kinds.
type Relation string

const (
	RelDependsOn  Relation = "DEPENDS_ON"
	RelBlocks     Relation = "BLOCKS"
	RelDuplicates Relation = "DUPLICATES"
	RelDerivesFrom Relation = "DERIVES_FROM"
	RelRelatedTo  Relation = "RELATED_TO"
)

// Role is one decision_roles row.
type Role struct {
	DecisionID string    `json:"decision_id"`
	ActorID    string    `json:"actor_id"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
}

// receiptAlias avoids an import cycle concern spelled out explicitly: store
// depends on receipt (receipt has no dependency back on store), so this is
// just a readability alias, not an abstraction boundary.
type Receipt = receipt.Receipt

// RiskLiabilitySignature aliases receipt.RiskLiabilitySignature for the
// same reason Receipt does above.
type RiskLiabilitySignature = receipt.RiskLiabilitySignature

// CounterfactualRun is a persisted record of one counterfactual replay, for
// the counterfactual_runs table.
type CounterfactualRun struct {
	CounterfactualID string         `json:"counterfactual_id"`
	SourceDecisionID string         `json:"source_decision_id"`
	BaseUpToSeq      uint64         `json:"base_up_to_seq"`
	EngineVersion    string         `json:"engine_version"`
	Edits            map[string]any `json:"edits"`
	ResultDecisionID string         `json:"result_decision_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
