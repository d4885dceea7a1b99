package event

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/obligation"
	"github.com/mindburn-labs/ledgerkernel/pkg/provenance"
)

// Decision is the aggregate root: the reproducible, event-sourced record
// this entire kernel exists to protect.
type Decision struct {
	ID        string `json:"id"`
	RootID    string `json:"root_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	Version   uint64 `json:"version"`
	State     State  `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Meta      map[string]any `json:"meta,omitempty"`
	Artifacts Artifacts      `json:"artifacts"`

	Risk           *Risk              `json:"risk,omitempty"`
	Accountability Accountability     `json:"accountability"`
	History        []HistoryEntry     `json:"history,omitempty"`
	Provenance     provenance.Chain   `json:"provenance"`
	Obligations    obligation.Bag     `json:"obligations"`
	Signatures     []Signature        `json:"signatures,omitempty"`
}

// Signature is one seal applied to the decision (see receipt.Seal).
type Signature struct {
	KeyID     string    `json:"key_id"`
	Algorithm string    `json:"algorithm"`
	Value     string    `json:"value"`
	SealedAt  time.Time `json:"sealed_at"`
	SealKey   string    `json:"seal_key"`
}

// Locked reports whether the decision is in a terminal state.
func (d Decision) Locked() bool { return d.State.Locked() }

// Clone returns a deep-enough copy of d for building a next-state value
// without aliasing slices/maps the caller still holds a reference to. The
// original implementation this kernel supersedes relied on JSON
// round-tripping for this; this kernel uses explicit structural copies
// instead, per the design-notes decision to replace implicit deep cloning
// with explicit move semantics.
func (d Decision) Clone() Decision {
	out := d
	out.Meta = cloneMap(d.Meta)
	out.Artifacts = d.Artifacts.clone()
	if d.Risk != nil {
		r := *d.Risk
		r.BlastRadius = append([]string(nil), d.Risk.BlastRadius...)
		r.ImpactedSystems = append([]string(nil), d.Risk.ImpactedSystems...)
		r.RollbackPlans = append([]string(nil), d.Risk.RollbackPlans...)
		out.Risk = &r
	}
	out.Accountability = d.Accountability.clone()
	out.History = append([]HistoryEntry(nil), d.History...)
	out.Provenance = provenance.Chain{
		Nodes:        append([]provenance.Node(nil), d.Provenance.Nodes...),
		Edges:        append([]provenance.Edge(nil), d.Provenance.Edges...),
		LastNodeID:   d.Provenance.LastNodeID,
		LastNodeHash: d.Provenance.LastNodeHash,
	}
	out.Obligations = obligation.Bag{
		Obligations: append([]obligation.Obligation(nil), d.Obligations.Obligations...),
		Violations:  append([]obligation.Violation(nil), d.Obligations.Violations...),
	}
	out.Obligations.LastEvaluatedAt = d.Obligations.LastEvaluatedAt
	out.Signatures = append([]Signature(nil), d.Signatures...)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (a Artifacts) clone() Artifacts {
	out := a
	out.Explain = cloneMap(a.Explain)
	out.Risk = cloneMap(a.Risk)
	out.Margin = cloneMap(a.Margin)
	out.Extra = cloneMap(a.Extra)
	out.Execution = ExecutionArtifacts{Attestations: append([]ExecutionAttestation(nil), a.Execution.Attestations...)}
	out.Dispute = DisputeArtifacts{Active: a.Dispute.Active, Entries: append([]DisputeEntry(nil), a.Dispute.Entries...)}
	trust := a.Trust
	if trust.Policy != nil {
		p := *trust.Policy
		trust.Policy = &p
	}
	trust.Origins = append([]TrustAssertion(nil), a.Trust.Origins...)
	out.Trust = trust
	out.LiabilityShield = LiabilityShield{Shields: append([]ShieldRef(nil), a.LiabilityShield.Shields...)}
	return out
}

func (a Accountability) clone() Accountability {
	out := a
	out.ActorCounts = make(map[string]int, len(a.ActorCounts))
	for k, v := range a.ActorCounts {
		out.ActorCounts[k] = v
	}
	out.ActorTypeCounts = make(map[string]int, len(a.ActorTypeCounts))
	for k, v := range a.ActorTypeCounts {
		out.ActorTypeCounts[k] = v
	}
	return out
}

// NewDraft constructs a freshly-created decision in DRAFT state, as happens
// when a decision is auto-created on first event receipt.
func NewDraft(id string, meta map[string]any, now time.Time) Decision {
	return Decision{
		ID:        id,
		RootID:    id,
		Version:   0,
		State:     StateDraft,
		CreatedAt: now,
		UpdatedAt: now,
		Meta:      meta,
	}
}
