// Package provenance implements the per-decision provenance chain: one
// linked node per applied event, each hash-bound to its predecessor and to
// the before/after state hashes of the decision it was applied to.
package provenance

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
)

// Node is one entry in a decision's provenance chain.
type Node struct {
	NodeID          string         `json:"node_id"`
	NodeHash        string         `json:"node_hash"`
	Seq             uint64         `json:"seq"`
	At              time.Time      `json:"at"`
	DecisionID      string         `json:"decision_id"`
	EventType       string         `json:"event_type"`
	ActorID         string         `json:"actor_id,omitempty"`
	EventHash       string         `json:"event_hash"`
	PrevNodeID      string         `json:"prev_node_id,omitempty"`
	PrevNodeHash    string         `json:"prev_node_hash,omitempty"`
	StateBeforeHash string         `json:"state_before_hash"`
	StateAfterHash  string         `json:"state_after_hash"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Edge is a DAG edge between two provenance nodes. The kernel only ever
// emits CAUSES edges (prior node causes the next), but the type admits
// other relations to keep the edge table forward-compatible.
type Edge struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Relation   string `json:"relation"`
}

// Chain is the append-only sequence of provenance nodes belonging to one
// decision, plus the redundant tail pointers the data model requires so a
// consumer need not walk the full list to find the newest node.
type Chain struct {
	Nodes        []Node `json:"nodes"`
	Edges        []Edge `json:"edges,omitempty"`
	LastNodeID   string `json:"last_node_id,omitempty"`
	LastNodeHash string `json:"last_node_hash,omitempty"`
}

// AppendInput carries the fields needed to compute and append one node.
type AppendInput struct {
	DecisionID      string
	Seq             uint64
	At              time.Time
	EventType       string
	ActorID         string
	EventHash       string
	StateBeforeHash string
	StateAfterHash  string
	Meta            map[string]any
}

// nodeIDPayload and nodeHashPayload pin the exact field set hashed for
// node_id and node_hash, per the open question in the design notes: the
// canonical hash fields are declared explicitly here, not left to
// incidental struct shape.
type nodeIDPayload struct {
	DecisionID      string         `json:"decision_id"`
	Seq             uint64         `json:"seq"`
	EventType       string         `json:"event_type"`
	ActorID         string         `json:"actor_id,omitempty"`
	EventHash       string         `json:"event_hash"`
	PrevNodeID      string         `json:"prev_node_id,omitempty"`
	StateBeforeHash string         `json:"state_before_hash"`
	StateAfterHash  string         `json:"state_after_hash"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Append computes node_id and node_hash for in and appends the resulting
// node to the chain, updating the tail pointers and recording a CAUSES
// edge from the previous tail.
func (c *Chain) Append(in AppendInput) (Node, error) {
	prevID, prevHash := c.LastNodeID, c.LastNodeHash

	idPayload := nodeIDPayload{
		DecisionID:      in.DecisionID,
		Seq:             in.Seq,
		EventType:       in.EventType,
		ActorID:         in.ActorID,
		EventHash:       in.EventHash,
		PrevNodeID:      prevID,
		StateBeforeHash: in.StateBeforeHash,
		StateAfterHash:  in.StateAfterHash,
		Meta:            in.Meta,
	}
	nodeID, err := canon.Hash(idPayload)
	if err != nil {
		return Node{}, err
	}

	node := Node{
		NodeID:          nodeID,
		Seq:             in.Seq,
		At:              in.At,
		DecisionID:      in.DecisionID,
		EventType:       in.EventType,
		ActorID:         in.ActorID,
		EventHash:       in.EventHash,
		PrevNodeID:      prevID,
		PrevNodeHash:    prevHash,
		StateBeforeHash: in.StateBeforeHash,
		StateAfterHash:  in.StateAfterHash,
		Meta:            in.Meta,
	}
	nodeHash, err := hashNode(node)
	if err != nil {
		return Node{}, err
	}
	node.NodeHash = nodeHash

	c.Nodes = append(c.Nodes, node)
	if prevID != "" {
		c.Edges = append(c.Edges, Edge{FromNodeID: prevID, ToNodeID: nodeID, Relation: "CAUSES"})
	}
	c.LastNodeID = nodeID
	c.LastNodeHash = nodeHash
	return node, nil
}

// hashNode computes node_hash = H(canonicalize(node minus node_hash and at)).
func hashNode(n Node) (string, error) {
	type hashable struct {
		NodeID          string         `json:"node_id"`
		Seq             uint64         `json:"seq"`
		DecisionID      string         `json:"decision_id"`
		EventType       string         `json:"event_type"`
		ActorID         string         `json:"actor_id,omitempty"`
		EventHash       string         `json:"event_hash"`
		PrevNodeID      string         `json:"prev_node_id,omitempty"`
		PrevNodeHash    string         `json:"prev_node_hash,omitempty"`
		StateBeforeHash string         `json:"state_before_hash"`
		StateAfterHash  string         `json:"state_after_hash"`
		Meta            map[string]any `json:"meta,omitempty"`
	}
	return canon.Hash(hashable{
		NodeID:          n.NodeID,
		Seq:             n.Seq,
		DecisionID:      n.DecisionID,
		EventType:       n.EventType,
		ActorID:         n.ActorID,
		EventHash:       n.EventHash,
		PrevNodeID:      n.PrevNodeID,
		PrevNodeHash:    n.PrevNodeHash,
		StateBeforeHash: n.StateBeforeHash,
		StateAfterHash:  n.StateAfterHash,
		Meta:            n.Meta,
	})
}

// Verify walks the chain checking genesis linkage, prev pointers, and
// recomputed node_id/node_hash against the stored values, and finally that
// the chain's tail pointers match the last node. It returns the first
// failing ledgererr.Code encountered, or "" if the chain is intact.
func Verify(c Chain) ledgererr.Code {
	for i, n := range c.Nodes {
		if i == 0 {
			if n.PrevNodeID != "" || n.PrevNodeHash != "" {
				return ledgererr.CodeBadGenesisLink
			}
		} else {
			prev := c.Nodes[i-1]
			if n.PrevNodeID != prev.NodeID {
				return ledgererr.CodeBrokenPrevID
			}
			if n.PrevNodeHash != prev.NodeHash {
				return ledgererr.CodeBrokenPrevHash
			}
		}

		idPayload := nodeIDPayload{
			DecisionID:      n.DecisionID,
			Seq:             n.Seq,
			EventType:       n.EventType,
			ActorID:         n.ActorID,
			EventHash:       n.EventHash,
			PrevNodeID:      n.PrevNodeID,
			StateBeforeHash: n.StateBeforeHash,
			StateAfterHash:  n.StateAfterHash,
			Meta:            n.Meta,
		}
		wantID, err := canon.Hash(idPayload)
		if err != nil || wantID != n.NodeID {
			return ledgererr.CodeNodeIDMismatch
		}
		wantHash, err := hashNode(n)
		if err != nil || wantHash != n.NodeHash {
			return ledgererr.CodeNodeHashMismatch
		}
	}

	if len(c.Nodes) == 0 {
		if c.LastNodeID != "" || c.LastNodeHash != "" {
			return ledgererr.CodeBagTailMismatch
		}
		return ""
	}
	tail := c.Nodes[len(c.Nodes)-1]
	if c.LastNodeID != tail.NodeID || c.LastNodeHash != tail.NodeHash {
		return ledgererr.CodeBagTailMismatch
	}
	return ""
}
