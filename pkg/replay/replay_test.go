package replay_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mindburn-labs/ledgerkernel/pkg/engine"
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/policy"
	"github.com/mindburn-labs/ledgerkernel/pkg/replay"
	"github.com/mindburn-labs/ledgerkernel/pkg/store"
	"github.com/stretchr/testify/require"
)

func newScratch(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func seedDecision(t *testing.T, s store.Store, decisionID string, now time.Time) []store.EventRecord {
	t.Helper()
	ctx := context.Background()
	eng := &engine.Engine{Store: s, Policies: policy.DefaultPolicies(policy.SLABlockOnApprove), RBACBypass: true, WorkflowBypass: true}

	steps := []map[string]any{
		{"type": "VALIDATE", "actor_id": "svc-intake", "actor_type": "service", "meta": map[string]any{"title": "seed", "owner_id": "owner-1"}},
		{"type": "SIMULATE", "actor_id": "svc-intake", "actor_type": "service"},
		{"type": "APPROVE", "actor_id": "human-reviewer", "actor_type": "human"},
	}
	for i, raw := range steps {
		_, err := eng.Apply(ctx, engine.ApplyInput{DecisionID: decisionID, Raw: raw, Now: now.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	recs, err := s.ListEvents(ctx, decisionID, 1)
	require.NoError(t, err)
	return recs
}

// Invariant: replaying a decision's full event history from genesis through
// an independent Runner reproduces the same final state as the live apply.
func TestReplay_ReproducesLiveDecision(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	live := newScratch(t)
	events := seedDecision(t, live, "decision-1", now)

	liveDecision, ok, err := live.GetDecision(ctx, "decision-1")
	require.NoError(t, err)
	require.True(t, ok)

	scratch := newScratch(t)
	runner := replay.NewRunner(scratch, policy.DefaultPolicies(policy.SLABlockOnApprove))
	runner.Engine.RBACBypass, runner.Engine.WorkflowBypass = true, true
	base := event.NewDraft("decision-1", map[string]any{}, now)

	sess, err := runner.Replay(ctx, "decision-1", base, events)
	require.NoError(t, err)
	require.False(t, sess.Diverged)
	require.Len(t, sess.Steps, len(events))

	diff := cmp.Diff(liveDecision, sess.Decision, cmpopts.IgnoreFields(event.Decision{}, "Accountability"))
	require.Empty(t, diff, "replayed decision diverged from the live one:\n%s", diff)
}

// Invariant: rewinding to an earlier seq reconstructs the decision's
// historical state as of that seq, not its final state.
func TestRewindDecision_ReconstructsHistoricalState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	src := newScratch(t)
	seedDecision(t, src, "decision-2", now)

	runner := replay.NewRunner(newScratch(t), policy.DefaultPolicies(policy.SLABlockOnApprove))
	runner.Engine.RBACBypass, runner.Engine.WorkflowBypass = true, true
	sess, err := replay.RewindDecision(ctx, src, runner, "decision-2", 2, now)
	require.NoError(t, err)
	require.False(t, sess.Diverged)

	require.Equal(t, event.StateSimulated, sess.Decision.State)
}

// Invariant: a counterfactual replay that swaps the APPROVE actor diverges
// in outcome identity (distinct CounterfactualID) from the unmodified
// baseline, while both sessions replay cleanly.
func TestReplayCounterfactual_DivergesFromBaseline(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	src := newScratch(t)
	seedDecision(t, src, "decision-3", now)

	baseRunner := replay.NewRunner(newScratch(t), policy.DefaultPolicies(policy.SLABlockOnApprove))
	cfRunner := replay.NewRunner(newScratch(t), policy.DefaultPolicies(policy.SLABlockOnApprove))
	baseRunner.Engine.RBACBypass, baseRunner.Engine.WorkflowBypass = true, true
	cfRunner.Engine.RBACBypass, cfRunner.Engine.WorkflowBypass = true, true

	edits := replay.Edits{
		Replace: []replay.ReplaceEdit{
			{
				Seq: 3,
				Event: event.DecisionEvent{
					Type: event.KindApprove, ActorID: "human-reviewer-2", ActorType: event.ActorHuman,
				},
				KeepOriginalAt: true,
			},
		},
	}

	result, err := replay.ReplayCounterfactual(ctx, src, baseRunner, cfRunner, "decision-3", 3, edits, "v-test", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, result.Baseline.Diverged)
	require.False(t, result.Counterfactual.Diverged)
	require.NotEmpty(t, result.CounterfactualID)

	diff := cmp.Diff(result.Baseline.Decision.Accountability, result.Counterfactual.Decision.Accountability)
	require.NotEmpty(t, diff, "expected counterfactual approver swap to change accountability, got identical result")
}

// Invariant: BuildCounterfactualEvents truncates history after the given
// seq and appends new events with sequential, monotonically increasing
// seqs regardless of how many baseline events were dropped.
func TestBuildCounterfactualEvents_TruncateAndAppend(t *testing.T) {
	baseline := []store.EventRecord{
		{DecisionID: "d", Seq: 1, Event: event.DecisionEvent{Type: event.KindValidate}},
		{DecisionID: "d", Seq: 2, Event: event.DecisionEvent{Type: event.KindSimulate}},
		{DecisionID: "d", Seq: 3, Event: event.DecisionEvent{Type: event.KindApprove}},
	}
	stampAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	edits := replay.Edits{
		TruncateAfterSeq: 1,
		Append: []event.DecisionEvent{
			{Type: event.KindReject, ActorID: "human-reviewer"},
		},
	}

	out := replay.BuildCounterfactualEvents(baseline, edits, stampAt)
	require.Len(t, out, 2)
	require.Equal(t, uint64(1), out[0].Seq)
	require.Equal(t, uint64(2), out[1].Seq)
	require.Equal(t, event.KindReject, out[1].Event.Type)
	require.True(t, out[1].At.Equal(stampAt))
}
