package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
)

// RuleType is one of the compliance constraint mini-DSL's rule kinds.
type RuleType string

const (
	RuleDisallowEventTypes   RuleType = "DISALLOW_EVENT_TYPES"
	RuleRequireEventMetaKeys RuleType = "REQUIRE_EVENT_META_KEYS"
	RuleRequireDecisionPaths RuleType = "REQUIRE_DECISION_PATHS"
	RuleThresholdBlock       RuleType = "THRESHOLD_BLOCK"
	RuleAllowlistActors      RuleType = "ALLOWLIST_ACTORS"
	// RuleCELExpression extends the fixed five rule types with an
	// arbitrary boolean CEL expression evaluated against the pending
	// event and decision, for constraints the closed rule vocabulary
	// cannot express declaratively.
	RuleCELExpression RuleType = "CEL_EXPRESSION"
)

// Rule is one compliance constraint. Only the fields relevant to its Type
// are consulted.
type Rule struct {
	ID            string     `json:"id"`
	Type          RuleType   `json:"type"`
	EventTypes    []event.Kind `json:"event_types,omitempty"`
	RequiredKeys  []string   `json:"required_meta_keys,omitempty"`
	RequiredPaths []string   `json:"required_decision_paths,omitempty"`
	Path          string     `json:"path,omitempty"`
	GTE           float64    `json:"gte,omitempty"`
	AllowedActors []string   `json:"allowed_actors,omitempty"`
	Expression    string     `json:"expression,omitempty"`
}

// RuleSet compiles compliance rules once at registration time. CEL_EXPRESSION
// rules carry a compiled cel.Program; all other rule types evaluate in
// plain Go since their shape is closed and declarative, not a general
// expression language. This mirrors the compile-once/evaluate-many split of
// a CEL-based policy engine generalized to a mixed declarative+expression
// rule set.
type RuleSet struct {
	mu      sync.RWMutex
	env     *cel.Env
	rules   []Rule
	programs map[string]cel.Program
}

// NewRuleSet constructs an empty compliance rule set with a CEL environment
// bound to the variables CEL_EXPRESSION rules may reference: `event_type`,
// `actor_id`, `actor_type`, `meta` and `decision_state`.
func NewRuleSet() (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("event_type", types.StringType),
			decls.NewVariable("actor_id", types.StringType),
			decls.NewVariable("actor_type", types.StringType),
			decls.NewVariable("meta", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("decision_state", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	return &RuleSet{env: env, programs: map[string]cel.Program{}}, nil
}

// Add registers rule, compiling it if it is a CEL_EXPRESSION.
func (rs *RuleSet) Add(r Rule) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r.Type == RuleCELExpression {
		ast, issues := rs.env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("policy: compile rule %s: %w", r.ID, issues.Err())
		}
		prg, err := rs.env.Program(ast)
		if err != nil {
			return fmt.Errorf("policy: program rule %s: %w", r.ID, err)
		}
		rs.programs[r.ID] = prg
	}
	rs.rules = append(rs.rules, r)
	return nil
}

// Evaluate checks every rule against (d, e) and returns the first BLOCK
// encountered as a failing Report, for use as a gate step.
func (rs *RuleSet) Evaluate(d event.Decision, e event.DecisionEvent) Report {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	for _, r := range rs.rules {
		if v, blocked := rs.evalOne(r, d, e); blocked {
			return fail(GatePolicy, v)
		}
	}
	return pass()
}

func (rs *RuleSet) evalOne(r Rule, d event.Decision, e event.DecisionEvent) (Violation, bool) {
	switch r.Type {
	case RuleDisallowEventTypes:
		for _, k := range r.EventTypes {
			if k == e.Type {
				return complianceViolation(r, "event type "+string(e.Type)+" is disallowed"), true
			}
		}
	case RuleRequireEventMetaKeys:
		applies := len(r.EventTypes) == 0
		for _, k := range r.EventTypes {
			if k == e.Type {
				applies = true
			}
		}
		if applies {
			for _, key := range r.RequiredKeys {
				v, present := e.Meta[key]
				if !present || isEmptyValue(v) {
					return complianceViolation(r, "missing required meta key "+key), true
				}
			}
		}
	case RuleRequireDecisionPaths:
		root := decisionPathRoot(d)
		for _, p := range r.RequiredPaths {
			if _, present := lookupDottedAny(root, p); !present {
				return complianceViolation(r, "missing required decision path "+p), true
			}
		}
	case RuleThresholdBlock:
		val, present := lookupDottedAny(decisionPathRoot(d), r.Path)
		if present {
			if f, ok := toFloat(val); ok && f < r.GTE {
				return complianceViolation(r, "value at "+r.Path+" below required threshold"), true
			}
		}
	case RuleAllowlistActors:
		for _, k := range r.EventTypes {
			if k == e.Type && !contains(r.AllowedActors, e.ActorID) {
				return complianceViolation(r, "actor "+e.ActorID+" not allowlisted for "+string(e.Type)), true
			}
		}
	case RuleCELExpression:
		prg := rs.programs[r.ID]
		if prg == nil {
			return Violation{}, false
		}
		out, _, err := prg.Eval(map[string]any{
			"event_type":     string(e.Type),
			"actor_id":       e.ActorID,
			"actor_type":     string(e.ActorType),
			"meta":           toAnyMap(e.Meta),
			"decision_state": string(d.State),
		})
		if err != nil {
			// Fail closed: an expression that errors at evaluation time
			// is a compliance violation, not a silent pass.
			return complianceViolation(r, "expression evaluation error: "+err.Error()), true
		}
		if allowed, ok := out.Value().(bool); !ok || !allowed {
			return complianceViolation(r, "blocked by rule "+r.ID), true
		}
	}
	return Violation{}, false
}

func complianceViolation(r Rule, msg string) Violation {
	return Violation{
		Code:     ledgererr.CodeComplianceViolation,
		Severity: ledgererr.Block,
		Message:  msg,
		Details:  map[string]any{"rule_id": r.ID, "rule_type": string(r.Type)},
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// decisionPathRoot builds the generic dot-path root RuleRequireDecisionPaths
// and RuleThresholdBlock resolve against. spec.md §4.3 describes these rule
// types as dot-paths "into the decision", not into decision.meta
// specifically, so the root exposes the decision's state, meta, risk,
// accountability and artifacts.extra sub-trees — enough to express paths
// like "risk.owner" or "artifacts.extra.region" alongside "meta.title".
// Explicit field-by-field construction, not a JSON round-trip, per the
// design-notes decision to replace implicit deep cloning/serialization with
// explicit structural access.
func decisionPathRoot(d event.Decision) map[string]any {
	root := map[string]any{
		"state": string(d.State),
		"meta":  toAnyMap(d.Meta),
		"artifacts": map[string]any{
			"extra": toAnyMap(d.Artifacts.Extra),
		},
		"accountability": map[string]any{
			"owner":      d.Accountability.Owner,
			"creator":    d.Accountability.Creator,
			"last_actor": d.Accountability.LastActor,
		},
	}
	if d.Risk != nil {
		root["risk"] = map[string]any{
			"owner":            d.Risk.Owner,
			"severity":         d.Risk.Severity,
			"blast_radius":     d.Risk.BlastRadius,
			"impacted_systems": d.Risk.ImpactedSystems,
			"rollback_plans":   d.Risk.RollbackPlans,
			"accepted":         d.Risk.Accepted,
			"accepted_by":      d.Risk.AcceptedBy,
		}
	}
	return root
}

func lookupDottedAny(root map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func toAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
