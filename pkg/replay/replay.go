// Package replay implements deterministic replay, rewind-to-sequence, and
// counterfactual what-if exploration over a decision's event history. It
// generalizes the session/step/divergence bookkeeping the engine uses for
// live application to the read-only, repeatable case: replaying a known
// event list against a known starting decision always produces the same
// resulting decision, which is what lets a counterfactual branch be
// compared against the real one.
package replay

import (
	"context"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
	"github.com/mindburn-labs/ledgerkernel/pkg/engine"
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/policy"
	"github.com/mindburn-labs/ledgerkernel/pkg/store"
)

// Step records the outcome of replaying one event.
type Step struct {
	Seq       uint64
	EventType event.Kind
	OK        bool
	Violation *ledgererr.Error
}

// Session is the result of a completed or diverged replay run.
type Session struct {
	DecisionID   string
	StartSeq     uint64
	TargetSeq    uint64
	Decision     event.Decision
	Steps        []Step
	Diverged     bool
	DivergedSeq  uint64
	DivergedCode ledgererr.Code
}

// Runner replays events against a scratch engine — one with no store
// side effects beyond an in-memory decision. It reuses engine.Engine's
// Apply so replay exercises exactly the same state-machine, policy and
// obligation logic as a live apply, the property that makes replay
// meaningful as an audit tool rather than a second implementation that
// could silently drift from the first.
type Runner struct {
	Scratch store.Store
	Engine  *engine.Engine
}

// NewRunner wires a Runner against an in-memory scratch store so replay
// never touches the caller's durable store.
func NewRunner(scratch store.Store, policies []policy.Policy) *Runner {
	eng := &engine.Engine{Store: scratch, Policies: policies}
	return &Runner{Scratch: scratch, Engine: eng}
}

// Replay starts from base (a genesis draft or a loaded snapshot's
// decision) and applies events in order, stopping at the first failure
// and returning the last-good decision along with the steps taken.
func (r *Runner) Replay(ctx context.Context, decisionID string, base event.Decision, events []store.EventRecord) (Session, error) {
	sess := Session{DecisionID: decisionID, StartSeq: base.Version, Decision: base}
	if err := r.Scratch.Init(ctx); err != nil {
		return sess, err
	}
	if err := r.Scratch.PutDecision(ctx, base, nil); err != nil {
		return sess, err
	}

	for _, rec := range events {
		raw := map[string]any{
			"type": string(rec.Event.Type), "actor_id": rec.Event.ActorID,
			"actor_type": string(rec.Event.ActorType), "meta": rec.Event.Meta,
			"payload": rec.Event.Payload,
		}
		res, err := r.Engine.Apply(ctx, engine.ApplyInput{
			DecisionID: decisionID, Raw: raw, Now: rec.At,
			IdempotencyKey: rec.IdempotencyKey,
		})
		if err != nil {
			sess.Diverged = true
			sess.DivergedSeq = rec.Seq
			if le, ok := err.(*ledgererr.Error); ok {
				sess.DivergedCode = le.Code
				sess.Steps = append(sess.Steps, Step{Seq: rec.Seq, EventType: rec.Event.Type, OK: false, Violation: le})
			} else {
				sess.Steps = append(sess.Steps, Step{Seq: rec.Seq, EventType: rec.Event.Type, OK: false})
			}
			return sess, nil
		}
		sess.Decision = res.Decision
		sess.TargetSeq = rec.Seq
		sess.Steps = append(sess.Steps, Step{Seq: rec.Seq, EventType: rec.Event.Type, OK: true})
	}
	return sess, nil
}

// LoadBase picks the starting point for a replay up to upToSeq: the
// latest snapshot at or before upToSeq if one exists, else a fresh
// genesis draft, plus the delta events still needed to reach upToSeq.
func LoadBase(ctx context.Context, src store.Store, decisionID string, upToSeq uint64, genesisAt time.Time) (event.Decision, []store.EventRecord, error) {
	var base event.Decision
	var fromSeq uint64

	if snap, ok, err := src.LatestSnapshotAtOrBefore(ctx, decisionID, upToSeq); err != nil {
		return event.Decision{}, nil, err
	} else if ok {
		base = snap.Decision
		fromSeq = snap.UpToSeq + 1
	} else {
		base = event.NewDraft(decisionID, map[string]any{}, genesisAt)
		fromSeq = 1
	}

	events, err := src.ListEvents(ctx, decisionID, fromSeq)
	if err != nil {
		return event.Decision{}, nil, err
	}
	out := make([]store.EventRecord, 0, len(events))
	for _, e := range events {
		if e.Seq > upToSeq {
			break
		}
		out = append(out, e)
	}
	return base, out, nil
}

// RewindDecision replays a decision from its nearest snapshot up to and
// including upToSeq, returning the reconstructed historical state.
func RewindDecision(ctx context.Context, src store.Store, r *Runner, decisionID string, upToSeq uint64, genesisAt time.Time) (Session, error) {
	base, events, err := LoadBase(ctx, src, decisionID, upToSeq, genesisAt)
	if err != nil {
		return Session{}, err
	}
	return r.Replay(ctx, decisionID, base, events)
}

// Edits describes a counterfactual rewrite of a decision's event history.
type Edits struct {
	Replace         []ReplaceEdit
	TruncateAfterSeq uint64 // 0 means no truncation
	Append          []event.DecisionEvent
}

// ReplaceEdit swaps the event recorded at Seq for Event. If KeepOriginalAt
// is true the replacement keeps the original record's timestamp instead of
// being stamped with the edit's own clock.
type ReplaceEdit struct {
	Seq            uint64
	Event          event.DecisionEvent
	KeepOriginalAt bool
}

// BuildCounterfactualEvents constructs the event list a counterfactual
// replay runs: baseline events with replacements substituted in place,
// truncated after TruncateAfterSeq (if nonzero), then Append events
// appended with sequential seqs and at stamped to stampAt.
func BuildCounterfactualEvents(baseline []store.EventRecord, edits Edits, stampAt time.Time) []store.EventRecord {
	replaceBySeq := make(map[uint64]ReplaceEdit, len(edits.Replace))
	for _, r := range edits.Replace {
		replaceBySeq[r.Seq] = r
	}

	out := make([]store.EventRecord, 0, len(baseline)+len(edits.Append))
	for _, rec := range baseline {
		if edits.TruncateAfterSeq != 0 && rec.Seq > edits.TruncateAfterSeq {
			break
		}
		if r, ok := replaceBySeq[rec.Seq]; ok {
			at := stampAt
			if r.KeepOriginalAt {
				at = rec.At
			}
			out = append(out, store.EventRecord{DecisionID: rec.DecisionID, Seq: rec.Seq, At: at, Event: r.Event})
			continue
		}
		out = append(out, rec)
	}

	nextSeq := uint64(0)
	if len(out) > 0 {
		nextSeq = out[len(out)-1].Seq
	}
	for _, e := range edits.Append {
		nextSeq++
		decisionID := ""
		if len(baseline) > 0 {
			decisionID = baseline[0].DecisionID
		}
		out = append(out, store.EventRecord{DecisionID: decisionID, Seq: nextSeq, At: stampAt, Event: e})
	}
	return out
}

// CounterfactualID computes the deterministic identity of one
// counterfactual run: a hash over the source decision, the engine
// version at the time of the run, the snapshot identity the run was
// based on, and the fully-resolved appended event list.
func CounterfactualID(decisionID, engineVersion, snapshotIdentity string, events []store.EventRecord) (string, error) {
	payload := map[string]any{
		"decision_id":      decisionID,
		"engine_version":   engineVersion,
		"snapshot_identity": snapshotIdentity,
		"events":           events,
	}
	return canon.Hash(payload)
}

// ReplayCounterfactual replays both the unmodified baseline and the
// edited counterfactual event list from the same base decision, so the
// caller can diff the two resulting decisions.
type CounterfactualResult struct {
	CounterfactualID string
	Baseline         Session
	Counterfactual   Session
}

func ReplayCounterfactual(ctx context.Context, src store.Store, baseRunner, cfRunner *Runner, decisionID string, upToSeq uint64, edits Edits, engineVersion string, genesisAt, stampAt time.Time) (CounterfactualResult, error) {
	base, baseline, err := LoadBase(ctx, src, decisionID, upToSeq, genesisAt)
	if err != nil {
		return CounterfactualResult{}, err
	}

	cfEvents := BuildCounterfactualEvents(baseline, edits, stampAt)

	snapshotIdentity := decisionID
	if snap, ok, err := src.LatestSnapshotAtOrBefore(ctx, decisionID, upToSeq); err == nil && ok {
		snapshotIdentity = snap.CheckpointHash
	}
	cfID, err := CounterfactualID(decisionID, engineVersion, snapshotIdentity, cfEvents)
	if err != nil {
		return CounterfactualResult{}, err
	}

	baseSess, err := baseRunner.Replay(ctx, decisionID, base, baseline)
	if err != nil {
		return CounterfactualResult{}, err
	}
	cfSess, err := cfRunner.Replay(ctx, decisionID+":cf:"+cfID, base, cfEvents)
	if err != nil {
		return CounterfactualResult{}, err
	}

	return CounterfactualResult{CounterfactualID: cfID, Baseline: baseSess, Counterfactual: cfSess}, nil
}

// PersistCounterfactualBranch creates a new decision, parented to
// sourceID, and applies the planned event list to it under the branch's
// own id, returning the resulting branch decision.
func PersistCounterfactualBranch(ctx context.Context, dst store.Store, eng *engine.Engine, sourceID, branchID string, base event.Decision, events []event.DecisionEvent, now time.Time) (event.Decision, error) {
	branch := base
	branch.ID = branchID
	branch.ParentID = sourceID
	branch.Version = 0
	if err := dst.PutDecision(ctx, branch, nil); err != nil {
		return event.Decision{}, err
	}

	var result event.Decision
	for _, e := range events {
		raw := map[string]any{
			"type": string(e.Type), "actor_id": e.ActorID,
			"actor_type": string(e.ActorType), "meta": e.Meta, "payload": e.Payload,
		}
		res, err := eng.Apply(ctx, engine.ApplyInput{DecisionID: branchID, Raw: raw, Now: now})
		if err != nil {
			return event.Decision{}, err
		}
		result = res.Decision
	}
	return result, nil
}
