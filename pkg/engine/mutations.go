package engine

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/obligation"
)

// applyArtifactMutations applies the per-kind side effects an event has on
// a decision's artifacts, risk record, meta and obligation bag, beyond the
// state-machine transition already computed by the caller. Kinds with no
// artifact effect (VALIDATE, APPROVE, REJECT) simply
// fall through with no case.
func applyArtifactMutations(nb *event.Decision, e event.DecisionEvent, now time.Time) {
	ts := now.UTC().Format(time.RFC3339)

	switch e.Type {
	case event.KindSimulate:
		if len(e.Payload) > 0 {
			nb.Artifacts.Margin = mergeMaps(nb.Artifacts.Margin, e.Payload)
		}
	case event.KindExplain:
		if len(e.Payload) > 0 {
			nb.Artifacts.Explain = mergeMaps(nb.Artifacts.Explain, e.Payload)
		}

	case event.KindAttachArtifacts:
		nb.Artifacts.Extra = deepMergeMaps(nb.Artifacts.Extra, e.Payload)

	case event.KindIngestRecords, event.KindAttestExternal, event.KindLinkDecisions, event.KindAgentPropose:
		key := "log:" + string(e.Type)
		entries, _ := nb.Artifacts.Extra[key].([]any)
		entries = append(entries, map[string]any{"at": ts, "actor_id": e.ActorID, "payload": e.Payload})
		nb.Artifacts.Extra = deepMergeMaps(nb.Artifacts.Extra, map[string]any{key: entries})

	case event.KindSign:
		// Cryptographic seal attachment is a separate, explicit
		// Engine.Seal call; SIGN itself records intent in the event log
		// plus (when meta.signer_state_hash is present) a
		// risk_liability_signatures binding row built in engine.go.

	case event.KindEnterDispute:
		nb.Artifacts.Dispute.Active = true
		reason, _ := e.Payload["reason"].(string)
		nb.Artifacts.Dispute.Entries = append(nb.Artifacts.Dispute.Entries, event.DisputeEntry{
			Kind: string(e.Type), At: ts, Reason: reason,
		})
	case event.KindExitDispute:
		nb.Artifacts.Dispute.Active = false
		reason, _ := e.Payload["reason"].(string)
		nb.Artifacts.Dispute.Entries = append(nb.Artifacts.Dispute.Entries, event.DisputeEntry{
			Kind: string(e.Type), At: ts, Reason: reason,
		})

	case event.KindAddObligation:
		nb.Obligations.Upsert(obligationFromPayload(e.Payload, now))
	case event.KindFulfillObligation:
		id, _ := e.Payload["obligation_id"].(string)
		proof, _ := e.Payload["proof"].(string)
		nb.Obligations.Fulfill(id, proof, now)
	case event.KindWaiveObligation:
		id, _ := e.Payload["obligation_id"].(string)
		reason, _ := e.Payload["reason"].(string)
		nb.Obligations.Waive(id, reason, now)
	case event.KindSetObligations:
		if raw, ok := e.Payload["obligations"].([]any); ok {
			for _, item := range raw {
				if m, ok := item.(map[string]any); ok {
					nb.Obligations.Upsert(obligationFromPayload(m, now))
				}
			}
		}
	case event.KindAttestExecution:
		obligationID, _ := e.Payload["obligation_id"].(string)
		proof, _ := e.Payload["proof"].(string)
		nb.Artifacts.Execution.Attestations = append(nb.Artifacts.Execution.Attestations, event.ExecutionAttestation{
			ObligationID: obligationID, At: ts, ActorID: e.ActorID, Proof: proof, Meta: e.Payload,
		})
		if obligationID != "" {
			nb.Obligations.Fulfill(obligationID, proof, now)
		}
	case event.KindAgentTriggerObligation:
		nb.Obligations.Upsert(obligationFromPayload(e.Payload, now))
	case event.KindResolveViolation:
		violationID, _ := e.Payload["violation_id"].(string)
		note, _ := e.Payload["note"].(string)
		nb.Obligations.ResolveViolation(violationID, e.ActorID, note, now)
	case event.KindAutoViolation:
		// Recorded for audit only; the obligation engine is the sole
		// authority on transitioning an obligation to BREACHED and
		// opening its violation, so this kind carries no direct mutation
		// beyond what history/provenance already record.

	case event.KindSetRisk:
		r := ensureRisk(nb)
		if v, ok := e.Payload["owner"].(string); ok {
			r.Owner = v
		}
		if v, ok := e.Payload["severity"].(string); ok {
			r.Severity = v
		}
	case event.KindAddBlastRadius:
		r := ensureRisk(nb)
		if v, ok := e.Payload["value"].(string); ok {
			r.AddBlastRadius(v)
		}
	case event.KindAddImpactedSystem:
		r := ensureRisk(nb)
		if v, ok := e.Payload["value"].(string); ok {
			r.AddImpactedSystem(v)
		}
	case event.KindSetRollbackPlan:
		r := ensureRisk(nb)
		if v, ok := e.Payload["plan"].(string); ok {
			r.AddRollbackPlan(v)
		}
	case event.KindAssignResponsibility:
		r := ensureRisk(nb)
		if v, ok := e.Payload["owner"].(string); ok {
			r.Owner = v
		}
		nb.Accountability.Owner = r.Owner
	case event.KindAcceptRisk:
		r := ensureRisk(nb)
		r.Accepted = true
		r.AcceptedBy = e.ActorID

	case event.KindSetTrustPolicy:
		p := &event.TrustPolicy{Enabled: true}
		if v, ok := e.Payload["denied_zones"].([]any); ok {
			p.DeniedZones = toStringSlice(v)
		}
		if v, ok := e.Payload["allowed_zones"].([]any); ok {
			p.AllowedZones = toStringSlice(v)
		}
		if v, ok := e.Payload["exempt_kinds"].([]any); ok {
			p.ExemptKinds = toStringSlice(v)
		}
		if v, ok := e.Payload["min_evidence_count"].(float64); ok {
			p.MinEvidenceCount = int(v)
		}
		if v, ok := e.Payload["min_attestation_confidence"].(float64); ok {
			p.MinAttestationConfidence = v
		}
		nb.Artifacts.Trust.Policy = p
	case event.KindAssertTrustOrigin:
		zone, _ := e.Payload["zone"].(string)
		nb.Artifacts.Trust.Origins = append(nb.Artifacts.Trust.Origins, event.TrustAssertion{
			Zone: zone, At: ts, Actor: e.ActorID,
		})

	case event.KindSetAmount:
		if v, ok := e.Payload["amount"]; ok {
			nb.Meta = mergeMaps(nb.Meta, map[string]any{"amount": v})
		}
	}
}

func ensureRisk(nb *event.Decision) *event.Risk {
	if nb.Risk == nil {
		nb.Risk = &event.Risk{}
	}
	return nb.Risk
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// deepMergeMaps merges src into dst, recursing into nested maps so that a
// shared top-level key whose value is itself a map combines its children
// instead of one payload clobbering the other's. Non-map values, and any
// key whose existing value is not a map, overwrite as usual. Used for
// Artifacts.Extra per spec.md's "merging artifacts (deep for extra)".
func deepMergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
	return dst
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

func obligationFromPayload(payload map[string]any, now time.Time) obligation.Obligation {
	o := obligation.Obligation{
		CreatedAt: now,
		Status:    obligation.StatusOpen,
		Severity:  obligation.SeverityBlock,
	}
	if v, ok := payload["id"].(string); ok {
		o.ID = v
	}
	if v, ok := payload["obligation_id"].(string); ok && o.ID == "" {
		o.ID = v
	}
	if v, ok := payload["title"].(string); ok {
		o.Title = v
	}
	if v, ok := payload["description"].(string); ok {
		o.Description = v
	}
	if v, ok := payload["owner"].(string); ok {
		o.Owner = v
	}
	if v, ok := payload["severity"].(string); ok {
		o.Severity = obligation.Severity(v)
	}
	if v, ok := payload["grace_seconds"].(float64); ok {
		o.GraceSeconds = int64(v)
	}
	if v, ok := payload["due_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			o.DueAt = &t
		}
	}
	if v, ok := payload["tags"].([]any); ok {
		o.Tags = toStringSlice(v)
	}
	return o
}
