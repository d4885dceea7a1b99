package event

import (
	"encoding/json"
	"strings"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
)

// toGenericMap round-trips d through JSON to obtain a plain
// map[string]any the stripping helpers below can mutate freely, without
// reaching for reflection over the typed struct. This is the one place in
// the kernel that still uses a JSON round trip for cloning, and it is
// intentional: canonical hashing needs a shape it can selectively prune,
// not a faithful structural copy.
func toGenericMap(d Decision) (map[string]any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// stripPatchMetaKeys removes any key ending in "_patch" from the "meta"
// object, recursively, at every level a meta map is nested into: the
// decision's own meta and nested ones such as each provenance node's meta.
func stripPatchMetaKeys(v any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		for k := range meta {
			if strings.HasSuffix(k, "_patch") {
				delete(meta, k)
			}
		}
	}
	for _, val := range m {
		switch t := val.(type) {
		case map[string]any:
			stripPatchMetaKeys(t)
		case []any:
			for _, e := range t {
				stripPatchMetaKeys(e)
			}
		}
	}
}

// TamperHash is the store-internal integrity digest. It is a pure function
// of the decision value. It strips signatures (a trailer appended after
// the state the hash protects was computed — see receipt.Seal) and any
// meta key ending in "_patch" (invariant: tamper hash must not move when a
// caller attaches a transient patch annotation).
//
// The open question of whether accountability should also be stripped is
// resolved here: it is not. Accountability counters are part of the
// integrity-relevant state the tamper hash protects; only the
// explicitly-called-out fields above are excluded.
func TamperHash(d Decision) (string, error) {
	m, err := toGenericMap(d)
	if err != nil {
		return "", err
	}
	delete(m, "signatures")
	stripPatchMetaKeys(m)
	return canon.Hash(m)
}

// PublicHash is the portable identity digest suitable for sharing with
// external parties. It applies every TamperHash strip plus additional
// internal-bookkeeping fields unsuitable for external consumption:
// accountability's per-actor counters and the liability-shield reference
// list (both operational detail, not decision content).
func PublicHash(d Decision) (string, error) {
	m, err := toGenericMap(d)
	if err != nil {
		return "", err
	}
	delete(m, "signatures")
	stripPatchMetaKeys(m)

	if acc, ok := m["accountability"].(map[string]any); ok {
		delete(acc, "actor_counts")
		delete(acc, "actor_type_counts")
	}
	if artifacts, ok := m["artifacts"].(map[string]any); ok {
		delete(artifacts, "liability_shield")
	}
	return canon.Hash(m)
}

// SanitizeEventForHash strips timestamp-like fields that may have been
// accidentally included in an event's payload/meta before it is hashed
// into a provenance node's event_hash — the event's own "at" is carried
// out-of-band by the provenance node, not by the event payload.
func SanitizeEventForHash(e DecisionEvent) DecisionEvent {
	clean := e
	clean.Payload = cloneMap(e.Payload)
	clean.Meta = cloneMap(e.Meta)
	delete(clean.Payload, "at")
	delete(clean.Payload, "timestamp")
	delete(clean.Meta, "at")
	delete(clean.Meta, "timestamp")
	return clean
}

// HashEvent computes the canonical hash of a sanitized event.
func HashEvent(e DecisionEvent) (string, error) {
	return canon.Hash(SanitizeEventForHash(e))
}
