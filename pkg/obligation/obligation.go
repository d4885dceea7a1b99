// Package obligation implements the obligation engine: SLA evaluation,
// breach detection against a current-time cursor, and auto-resolution of
// breach violations on fulfillment or waiver.
package obligation

import (
	"strings"
	"time"
)

// Severity classifies how a breach of this obligation should affect apply.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Status is an obligation's lifecycle status.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFulfilled Status = "FULFILLED"
	StatusWaived    Status = "WAIVED"
	StatusBreached  Status = "BREACHED"
)

// Obligation is a single tracked commitment with an optional due date and
// grace period.
type Obligation struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	GraceSeconds  int64      `json:"grace_seconds,omitempty"`
	Severity      Severity   `json:"severity"`
	Status        Status     `json:"status"`
	FulfilledAt   *time.Time `json:"fulfilled_at,omitempty"`
	WaivedAt      *time.Time `json:"waived_at,omitempty"`
	WaivedReason  string     `json:"waived_reason,omitempty"`
	Proof         string     `json:"proof,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

// Terminal reports whether the obligation is in a status SLA evaluation
// must never override: FULFILLED and WAIVED both always win over a breach.
func (o Obligation) Terminal() bool {
	return o.Status == StatusFulfilled || o.Status == StatusWaived || o.FulfilledAt != nil || o.WaivedAt != nil
}

// Violation records a breach of a BLOCK-severity obligation.
type Violation struct {
	ViolationID    string     `json:"violation_id"`
	Code           string     `json:"code"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	At             time.Time  `json:"at"`
	ObligationID   string     `json:"obligation_id,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// Open reports whether v has not yet been resolved.
func (v Violation) Open() bool { return v.ResolvedAt == nil }

// Bag is the mutable obligation/violation state attached to a decision.
type Bag struct {
	Obligations      []Obligation `json:"obligations,omitempty"`
	Violations       []Violation  `json:"violations,omitempty"`
	LastEvaluatedAt  *time.Time   `json:"last_evaluated_at,omitempty"`
}

// Upsert inserts o, or replaces the existing obligation with the same ID.
func (b *Bag) Upsert(o Obligation) {
	for i := range b.Obligations {
		if b.Obligations[i].ID == o.ID {
			b.Obligations[i] = o
			return
		}
	}
	b.Obligations = append(b.Obligations, o)
}

// Get returns the obligation with the given ID, if present.
func (b *Bag) Get(id string) (Obligation, bool) {
	for _, o := range b.Obligations {
		if o.ID == id {
			return o, true
		}
	}
	return Obligation{}, false
}

// Fulfill marks an obligation fulfilled with proof, at time at.
func (b *Bag) Fulfill(id, proof string, at time.Time) bool {
	for i := range b.Obligations {
		if b.Obligations[i].ID == id {
			b.Obligations[i].Status = StatusFulfilled
			b.Obligations[i].FulfilledAt = &at
			b.Obligations[i].Proof = proof
			return true
		}
	}
	return false
}

// Waive marks an obligation waived with reason, at time at.
func (b *Bag) Waive(id, reason string, at time.Time) bool {
	for i := range b.Obligations {
		if b.Obligations[i].ID == id {
			b.Obligations[i].Status = StatusWaived
			b.Obligations[i].WaivedAt = &at
			b.Obligations[i].WaivedReason = reason
			return true
		}
	}
	return false
}

// hasOpenBreach reports whether b already has an unresolved
// OBLIGATION_BREACHED violation for obligationID.
func (b *Bag) hasOpenBreach(obligationID string) bool {
	for _, v := range b.Violations {
		if v.ObligationID == obligationID && v.Code == "OBLIGATION_BREACHED" && v.Open() {
			return true
		}
	}
	return false
}

// Evaluate re-evaluates every obligation against now: terminal obligations
// (FULFILLED/WAIVED) are preserved and any of their open breach violations
// are auto-resolved; non-terminal obligations past due_at+grace_seconds
// transition to BREACHED and, if BLOCK severity, gain a new open violation
// unless one is already open. LastEvaluatedAt is set to now truncated to
// seconds, matching the timestamp-normalization rule used for
// reproducible hashing.
func Evaluate(b *Bag, now time.Time) {
	evalAt := now.Truncate(time.Second)

	for i := range b.Obligations {
		o := &b.Obligations[i]
		if o.Terminal() {
			resolveBreachesFor(b, o.ID, evalAt, "Auto-resolved: obligation "+string(o.Status))
			continue
		}
		if o.DueAt == nil {
			continue
		}
		deadline := o.DueAt.Add(time.Duration(o.GraceSeconds) * time.Second)
		if deadline.Before(now) {
			o.Status = StatusBreached
			if o.Severity == SeverityBlock && !b.hasOpenBreach(o.ID) {
				b.Violations = append(b.Violations, Violation{
					ViolationID:  breachViolationID(o.ID, evalAt),
					Code:         "OBLIGATION_BREACHED",
					Severity:     SeverityBlock,
					Message:      "obligation " + o.ID + " breached SLA",
					At:           evalAt,
					ObligationID: o.ID,
				})
			}
		}
	}

	b.LastEvaluatedAt = &evalAt
}

func resolveBreachesFor(b *Bag, obligationID string, at time.Time, note string) {
	for i := range b.Violations {
		v := &b.Violations[i]
		if v.ObligationID == obligationID && v.Code == "OBLIGATION_BREACHED" && v.Open() {
			v.ResolvedAt = &at
			v.ResolutionNote = note
		}
	}
}

// ResolveViolation resolves a named open violation explicitly, e.g. via a
// RESOLVE_VIOLATION event.
func (b *Bag) ResolveViolation(violationID, resolvedBy, note string, at time.Time) bool {
	for i := range b.Violations {
		if b.Violations[i].ViolationID == violationID && b.Violations[i].Open() {
			b.Violations[i].ResolvedAt = &at
			b.Violations[i].ResolvedBy = resolvedBy
			b.Violations[i].ResolutionNote = note
			return true
		}
	}
	return false
}

// OpenBlockViolations returns every currently-open BLOCK-severity violation.
func (b *Bag) OpenBlockViolations() []Violation {
	out := make([]Violation, 0)
	for _, v := range b.Violations {
		if v.Open() && v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// ReferencesObligationOrViolation reports whether payload contains, at any
// depth, a string value equal to one of b's obligation or violation IDs —
// the loophole that lets a remediation payload reference the thing it is
// fixing even when its event kind is not itself on the remediation
// allowlist.
func (b *Bag) ReferencesObligationOrViolation(payload any) bool {
	ids := make(map[string]bool, len(b.Obligations)+len(b.Violations))
	for _, o := range b.Obligations {
		ids[o.ID] = true
	}
	for _, v := range b.Violations {
		ids[v.ViolationID] = true
	}
	if len(ids) == 0 {
		return false
	}
	return containsAny(payload, ids)
}

func containsAny(v any, ids map[string]bool) bool {
	switch t := v.(type) {
	case string:
		return ids[t] || containsAnySubstring(t, ids)
	case map[string]any:
		for _, val := range t {
			if containsAny(val, ids) {
				return true
			}
		}
	case []any:
		for _, val := range t {
			if containsAny(val, ids) {
				return true
			}
		}
	}
	return false
}

// containsAnySubstring covers payload strings that embed an ID rather than
// equal it exactly (e.g. "see obligation obl-123").
func containsAnySubstring(s string, ids map[string]bool) bool {
	for id := range ids {
		if id != "" && strings.Contains(s, id) {
			return true
		}
	}
	return false
}

func breachViolationID(obligationID string, at time.Time) string {
	return "viol-" + obligationID + "-" + at.UTC().Format(time.RFC3339)
}
