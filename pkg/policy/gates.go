package policy

import (
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
)

// Gate names the four kinds of check a GateReport can attribute a failure
// to, for explainability.
type Gate string

const (
	GateStateMachine Gate = "STATE_MACHINE"
	GatePolicy       Gate = "POLICY"
	GateRBAC         Gate = "RBAC"
	GateWorkflow     Gate = "WORKFLOW"
)

// StepStatus reports whether one workflow-template step is satisfied.
type StepStatus struct {
	Step      string `json:"step"`
	Satisfied bool   `json:"satisfied"`
}

// Report unifies the outcome of every gate the engine consults for a single
// apply call.
type Report struct {
	Gate          Gate         `json:"gate,omitempty"`
	Passed        bool         `json:"passed"`
	Violations    []Violation  `json:"violations,omitempty"`
	WorkflowSteps []StepStatus `json:"workflow_steps,omitempty"`
}

func pass() Report { return Report{Passed: true} }

func fail(gate Gate, v Violation) Report {
	return Report{Gate: gate, Passed: false, Violations: []Violation{v}}
}

// ApprovalGate is an optional pluggable evaluator consulted for
// APPROVE/REJECT, e.g. to require a role, a signing quorum, or both.
type ApprovalGate interface {
	Evaluate(d event.Decision, e event.DecisionEvent) Report
}

// NoopApprovalGate always passes; it is the default when the caller has
// not configured one.
type NoopApprovalGate struct{}

func (NoopApprovalGate) Evaluate(event.Decision, event.DecisionEvent) Report { return pass() }

// RoleQuorumGate requires at least MinApprovers distinct actor IDs holding
// one of RequiredRoles to have signed off across the decision's history
// (including the pending event) before an APPROVE/REJECT succeeds.
type RoleQuorumGate struct {
	RequiredRoles []string
	MinApprovers  int
	RoleLookup    func(decisionID, actorID string) []string
}

func (g RoleQuorumGate) Evaluate(d event.Decision, e event.DecisionEvent) Report {
	if e.Type != event.KindApprove && e.Type != event.KindReject {
		return pass()
	}
	if g.MinApprovers <= 1 {
		return pass()
	}
	seen := map[string]bool{}
	count := func(actorID string) {
		if actorID == "" || seen[actorID] {
			return
		}
		for _, role := range g.RoleLookup(d.ID, actorID) {
			if hasCaseInsensitive(g.RequiredRoles, role) {
				seen[actorID] = true
				return
			}
		}
	}
	for _, h := range d.History {
		count(h.ActorID)
	}
	count(e.ActorID)
	if len(seen) < g.MinApprovers {
		return fail(GatePolicy, Violation{
			Code:     ledgererr.CodePolicyViolation,
			Severity: ledgererr.Block,
			Message:  "approval quorum not met",
		})
	}
	return pass()
}

func hasCaseInsensitive(set []string, v string) bool {
	for _, s := range set {
		if equalFold(s, v) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ImmutabilityAllowlist is the set of event kinds a locked decision still
// accepts.
var ImmutabilityAllowlist = map[event.Kind]bool{
	event.KindAttachArtifacts: true,
	event.KindSign:            true,
	event.KindAttestExternal:  true,
	event.KindLinkDecisions:   true,
}

// ImmutabilityWindow blocks every event kind not in ImmutabilityAllowlist
// once a decision has reached a locked (terminal) state.
func ImmutabilityWindow(d event.Decision, e event.DecisionEvent) Report {
	if !d.Locked() {
		return pass()
	}
	if ImmutabilityAllowlist[e.Type] {
		return pass()
	}
	return fail(GateStateMachine, Violation{
		Code:     ledgererr.CodeLockedDecision,
		Severity: ledgererr.Block,
		Message:  "decision is locked in state " + string(d.State),
	})
}

// RBACRoles is the set of roles authorized to APPROVE, REJECT or PUBLISH.
var RBACRoles = []string{"APPROVER", "ADMIN"}

// RBACConfig configures the RBAC gate.
type RBACConfig struct {
	Bypass     bool
	RoleLookup func(decisionID, actorID string) []string
}

var rbacGatedKinds = map[event.Kind]bool{
	event.KindApprove: true,
	event.KindReject:  true,
}

const pseudoKindPublish = event.Kind("PUBLISH")

// RBAC requires the acting actor to hold APPROVER or ADMIN for
// APPROVE/REJECT (and, defensively, a PUBLISH kind should one ever be
// added to the closed set), unless cfg.Bypass is set.
func RBAC(cfg RBACConfig) func(event.Decision, event.DecisionEvent) Report {
	return func(d event.Decision, e event.DecisionEvent) Report {
		if cfg.Bypass {
			return pass()
		}
		if !rbacGatedKinds[e.Type] && e.Type != pseudoKindPublish {
			return pass()
		}
		roles := cfg.RoleLookup(d.ID, e.ActorID)
		if hasCaseInsensitive(roles, RBACRoles[0]) || hasCaseInsensitive(roles, RBACRoles[1]) {
			return pass()
		}
		return fail(GateRBAC, Violation{
			Code:     ledgererr.CodeRBACRoleRequired,
			Severity: ledgererr.Block,
			Message:  "actor lacks APPROVER/ADMIN role required for " + string(e.Type),
		})
	}
}

// bypass, when true, skips the workflow-completeness gate entirely.
//
// WorkflowGate enforces the "basic approval" template on APPROVE/REJECT:
// an amount must be present (decision.Meta["amount"] or an "amount" field
// on the pending event's payload or meta), a VALIDATE event must appear in history
// or be the pending event, and an APPROVE-or-REJECT event must appear in
// history or be the pending event.
func WorkflowGate(bypass bool) func(event.Decision, event.DecisionEvent) Report {
	return func(d event.Decision, e event.DecisionEvent) Report {
		if bypass {
			return pass()
		}
		if e.Type != event.KindApprove && e.Type != event.KindReject {
			return pass()
		}

		amountPresent := d.Meta["amount"] != nil
		if !amountPresent {
			if _, has := e.Field("amount"); has {
				amountPresent = true
			}
		}

		hasKind := func(k event.Kind) bool {
			if e.Type == k {
				return true
			}
			for _, h := range d.History {
				if h.EventType == k {
					return true
				}
			}
			return false
		}

		steps := []StepStatus{
			{Step: "amount_present", Satisfied: amountPresent},
			{Step: "validated", Satisfied: hasKind(event.KindValidate)},
			{Step: "approved_or_rejected", Satisfied: hasKind(event.KindApprove) || hasKind(event.KindReject)},
		}

		allOK := true
		for _, s := range steps {
			if !s.Satisfied {
				allOK = false
			}
		}
		if allOK {
			return Report{Gate: GateWorkflow, Passed: true, WorkflowSteps: steps}
		}
		return Report{
			Gate:   GateWorkflow,
			Passed: false,
			Violations: []Violation{{
				Code:     ledgererr.CodeWorkflowIncomplete,
				Severity: ledgererr.Block,
				Message:  "basic approval workflow incomplete",
			}},
			WorkflowSteps: steps,
		}
	}
}

// TrustBoundaryExempt lists kinds that never require a trust envelope even
// when the trust boundary policy is enabled.
var TrustBoundaryExempt = map[event.Kind]bool{
	event.KindValidate: true,
	event.KindSimulate: true,
	event.KindExplain:  true,
}

// TrustBoundary enforces the optional per-decision trust policy stored at
// d.Artifacts.Trust.Policy.
func TrustBoundary(d event.Decision, e event.DecisionEvent) Report {
	p := d.Artifacts.Trust.Policy
	if p == nil || !p.Enabled {
		return pass()
	}
	if TrustBoundaryExempt[e.Type] {
		return pass()
	}
	for _, k := range p.ExemptKinds {
		if event.Kind(k) == e.Type {
			return pass()
		}
	}
	if e.Trust == nil || e.Trust.OriginZone == "" {
		return fail(GatePolicy, Violation{
			Code: ledgererr.CodeTrustOriginZoneRequired, Severity: ledgererr.Block,
			Message: "event requires a trust origin zone",
		})
	}
	zone := e.Trust.OriginZone
	for _, denied := range p.DeniedZones {
		if denied == zone {
			return fail(GatePolicy, Violation{
				Code: ledgererr.CodeTrustOriginZoneDenied, Severity: ledgererr.Block,
				Message: "trust origin zone " + zone + " is denied",
			})
		}
	}
	if len(p.AllowedZones) > 0 && !contains(p.AllowedZones, zone) {
		return fail(GatePolicy, Violation{
			Code: ledgererr.CodeTrustOriginZoneNotAllowed, Severity: ledgererr.Block,
			Message: "trust origin zone " + zone + " is not allowlisted",
		})
	}
	if p.MinEvidenceCount > 0 && len(e.Trust.EvidenceRefs) < p.MinEvidenceCount {
		return fail(GatePolicy, Violation{
			Code: ledgererr.CodeTrustOriginZoneRequired, Severity: ledgererr.Block,
			Message: "insufficient trust evidence",
		})
	}
	if p.MinAttestationConfidence > 0 && e.Trust.Confidence < p.MinAttestationConfidence {
		return fail(GatePolicy, Violation{
			Code: ledgererr.CodeTrustOriginZoneRequired, Severity: ledgererr.Block,
			Message: "trust attestation confidence below threshold",
		})
	}
	return pass()
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// DisputeAllowed reports whether event kind k is permitted to proceed while
// a decision is in dispute mode.
func DisputeAllowed(k event.Kind) bool {
	return event.InRemediationAllowlist(k) || k == event.KindExitDispute
}
