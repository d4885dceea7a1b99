// Package policy implements the policy & gate evaluator: composable pure
// policies, the approval gate, the declarative (and CEL-backed) compliance
// constraint DSL, the immutability window, the workflow-completeness gate
// and RBAC.
package policy

import (
	"strings"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/obligation"
)

// Violation mirrors ledgererr's shape but is scoped to policy evaluation
// output, kept independent of ledgererr.Error so a BLOCK policy result can
// be converted to an error only at the point the engine decides to abort.
type Violation struct {
	Code     ledgererr.Code     `json:"code"`
	Severity ledgererr.Severity `json:"severity"`
	Message  string             `json:"message"`
	Details  map[string]any     `json:"details,omitempty"`
}

// Result is what a single policy returns.
type Result struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

func ok() Result { return Result{OK: true} }

func block(code ledgererr.Code, msg string) Result {
	return Result{OK: false, Violations: []Violation{{Code: code, Severity: ledgererr.Block, Message: msg}}}
}

// Policy is a pure function over (decision, pending event, the single `now`
// value the engine computed for this apply call). Every policy must derive
// time only from this parameter, never from a fresh call to time.Now,
// preserving replay determinism.
type Policy func(d event.Decision, e event.DecisionEvent, now time.Time) Result

// SLAMode configures when the default SLA-enforcement policy blocks.
type SLAMode string

const (
	SLABlockOnApprove SLAMode = "APPROVE"
	SLABlockOnAny     SLAMode = "ANY_EVENT"
)

// RequireMetaOnValidate is the default policy requiring meta.title and
// meta.owner_id before VALIDATE succeeds.
func RequireMetaOnValidate(d event.Decision, e event.DecisionEvent, _ time.Time) Result {
	if e.Type != event.KindValidate {
		return ok()
	}
	title, _ := d.Meta["title"].(string)
	owner, _ := d.Meta["owner_id"].(string)
	if strings.TrimSpace(title) == "" {
		if v, present := e.Meta["title"].(string); present {
			title = v
		}
	}
	if strings.TrimSpace(owner) == "" {
		if v, present := e.Meta["owner_id"].(string); present {
			owner = v
		}
	}
	if strings.TrimSpace(title) == "" || strings.TrimSpace(owner) == "" {
		return block(ledgererr.CodeMissingRequiredFields, "VALIDATE requires meta.title and meta.owner_id")
	}
	return ok()
}

// SLAEnforcement re-evaluates a clone of the decision's obligation bag
// against now and blocks (by default only on APPROVE) if any BLOCK
// obligation is breached. It never mutates d.Obligations itself — the
// authoritative mutation happens once, later, in the engine's obligation
// re-evaluation step; this policy only previews the outcome.
func SLAEnforcement(mode SLAMode) Policy {
	return func(d event.Decision, e event.DecisionEvent, now time.Time) Result {
		if mode == SLABlockOnApprove && e.Type != event.KindApprove {
			return ok()
		}
		clone := obligation.Bag{
			Obligations: append([]obligation.Obligation(nil), d.Obligations.Obligations...),
			Violations:  append([]obligation.Violation(nil), d.Obligations.Violations...),
		}
		obligation.Evaluate(&clone, now)
		for _, v := range clone.OpenBlockViolations() {
			if v.Code == "OBLIGATION_BREACHED" {
				return block(ledgererr.CodeObligationBreached, v.Message)
			}
		}
		return ok()
	}
}

// AgentsCannotFinalize blocks APPROVE/REJECT from actor_type=agent.
func AgentsCannotFinalize(d event.Decision, e event.DecisionEvent, _ time.Time) Result {
	if e.ActorType == event.ActorAgent && (e.Type == event.KindApprove || e.Type == event.KindReject) {
		return block(ledgererr.CodeAgentCannotFinalize, "agents cannot finalize a decision")
	}
	return ok()
}

// DefaultPolicies returns the three mandatory default policies, composed in
// the order they are documented.
func DefaultPolicies(mode SLAMode) []Policy {
	return []Policy{
		RequireMetaOnValidate,
		SLAEnforcement(mode),
		AgentsCannotFinalize,
	}
}

// Evaluate runs policies in order against (d, e, now); the first BLOCK
// aborts and is returned as the sole element of Violations (plus any WARNs
// collected before it). If no BLOCK occurs, all WARNs accumulate into a
// passing Result.
func Evaluate(policies []Policy, d event.Decision, e event.DecisionEvent, now time.Time) Result {
	var warnings []Violation
	for _, p := range policies {
		r := p(d, e, now)
		if !r.OK {
			return Result{OK: false, Violations: append(warnings, r.Violations...)}
		}
		warnings = append(warnings, r.Violations...)
	}
	return Result{OK: true, Violations: warnings}
}
