package event

import (
	"strings"
)

// TrustEnvelope carries optional provenance-of-the-event-itself metadata,
// distinct from the decision's own TrustArtifacts (which records assertions
// made *about* the decision over its lifetime).
type TrustEnvelope struct {
	OriginZone    string   `json:"origin_zone,omitempty"`
	System        string   `json:"system,omitempty"`
	Channel       string   `json:"channel,omitempty"`
	TenantID      string   `json:"tenant_id,omitempty"`
	EvidenceRefs  []string `json:"evidence_refs,omitempty"`
	Attestations  []string `json:"attestations,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
}

// DecisionEvent is the normalized, strongly-typed form of an incoming
// event. Decoders for wrapper shapes (event.event / event.data /
// event.payload / event.body / event.message) and camelCase/snake_case
// variants live at the boundary in Normalize; once constructed, the engine
// only ever sees this type.
type DecisionEvent struct {
	Type          Kind           `json:"type"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorType     ActorType      `json:"actor_type,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	Trust         *TrustEnvelope `json:"trust,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// rawEnvelope is the shape Normalize accepts from a caller before the event
// is known to be well-formed: any of several wrapper keys, and a type tag
// that may arrive under a handful of case variants.
type rawEnvelope struct {
	wrapper map[string]any
}

// wrapperKeys is tried in order; the first key present unwraps one level.
var wrapperKeys = []string{"event", "data", "payload", "body", "message"}

// typeKeys is tried in order, case-insensitively, to find the type tag.
var typeKeys = []string{"type", "Type", "eventType", "event_type", "kind"}

// hasTypeKey reports whether m already carries a type tag at its own level,
// meaning it is an already-unwrapped event rather than something still
// needing a wrapper-key unwrap.
func hasTypeKey(m map[string]any) bool {
	for _, k := range typeKeys {
		if s, ok := m[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

// Normalize accepts a raw, possibly-wrapped, possibly case-varied event
// value and produces a DecisionEvent. It never fails on shape alone: an
// unrecognized type string is returned as Kind(strings.ToUpper(raw)) so the
// caller can classify it as INVALID_EVENT_TYPE against the closed set,
// keeping "unknown type" a single decision point in the engine rather than
// scattered through decoding.
func Normalize(raw map[string]any) DecisionEvent {
	v := raw
	for _, k := range wrapperKeys {
		inner, ok := v[k].(map[string]any)
		if !ok {
			continue
		}
		if k == "payload" && hasTypeKey(v) {
			// "payload" is ambiguous: it can be a full wrapper
			// ({"payload": {"type": ..., ...}}) or the event's own
			// payload field sitting beside a type tag that is already
			// at the top level ({"type": ..., "payload": {...}}). Once
			// the envelope itself carries a type tag it is already
			// unwrapped, so leave "payload" for the payload-field
			// handling below instead of unwrapping into it.
			continue
		}
		v = inner
		break
	}

	var typeStr string
	for _, k := range typeKeys {
		if s, ok := v[k].(string); ok && s != "" {
			typeStr = s
			break
		}
	}

	evt := DecisionEvent{
		Type: Kind(strings.ToUpper(strings.TrimSpace(typeStr))),
	}
	if a, ok := v["actor_id"].(string); ok {
		evt.ActorID = a
	} else if a, ok := v["actorId"].(string); ok {
		evt.ActorID = a
	}
	if a, ok := v["actor_type"].(string); ok {
		evt.ActorType = ActorType(a)
	} else if a, ok := v["actorType"].(string); ok {
		evt.ActorType = ActorType(a)
	}
	if m, ok := v["meta"].(map[string]any); ok {
		evt.Meta = m
	}
	if p, ok := v["payload"].(map[string]any); ok {
		evt.Payload = p
	} else {
		// The remaining top-level keys (besides the ones already
		// consumed) are treated as the payload, matching the loose
		// shape compliance rules and workflow-gate field lookups rely
		// on (e.g. a bare {"type":"SET_AMOUNT","amount":100}).
		payload := map[string]any{}
		consumed := map[string]bool{
			"type": true, "Type": true, "eventType": true, "event_type": true, "kind": true,
			"actor_id": true, "actorId": true, "actor_type": true, "actorType": true,
			"meta": true, "trust": true, "payload": true,
		}
		for k, val := range v {
			if !consumed[k] {
				payload[k] = val
			}
		}
		if len(payload) > 0 {
			evt.Payload = payload
		}
	}
	if t, ok := v["trust"].(map[string]any); ok {
		te := &TrustEnvelope{}
		if z, ok := t["origin_zone"].(string); ok {
			te.OriginZone = z
		}
		if s, ok := t["system"].(string); ok {
			te.System = s
		}
		if c, ok := t["channel"].(string); ok {
			te.Channel = c
		}
		if tid, ok := t["tenant_id"].(string); ok {
			te.TenantID = tid
		}
		if c, ok := t["confidence"].(float64); ok {
			te.Confidence = c
		}
		if refs, ok := t["evidence_refs"].([]any); ok {
			te.EvidenceRefs = toStringSlice(refs)
		}
		if atts, ok := t["attestations"].([]any); ok {
			te.Attestations = toStringSlice(atts)
		}
		evt.Trust = te
	}
	return evt
}

func toStringSlice(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Field looks up a dotted path into the event's payload (and meta as a
// fallback), used by the amount lookup and declarative compliance rules.
func (e DecisionEvent) Field(path string) (any, bool) {
	if v, ok := lookupPath(e.Payload, path); ok {
		return v, true
	}
	return lookupPath(e.Meta, path)
}

func lookupPath(root map[string]any, path string) (any, bool) {
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
