package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/store"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

// Invariant (S4): appending two event records under the same idempotency
// key commits only once; the second call returns the first record and
// reports existed=true.
func TestAppendEvent_IdempotencyKeyShortCircuits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := store.EventRecord{DecisionID: "d1", At: now, Event: event.DecisionEvent{Type: event.KindValidate}, IdempotencyKey: "k1"}
	first, existed, err := s.AppendEvent(ctx, rec)
	require.NoError(t, err)
	require.False(t, existed)
	require.Equal(t, uint64(1), first.Seq)

	second, existed, err := s.AppendEvent(ctx, rec)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, first.Seq, second.Seq)
	require.Equal(t, first.Hash, second.Hash)

	events, err := s.ListEvents(ctx, "d1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

// Invariant: record.hash covers at and idempotency_key, not just the event
// payload and chain linkage — two records differing only in timestamp or
// idempotency key must not hash identically.
func TestHashRecord_CoversAtAndIdempotencyKey(t *testing.T) {
	base := store.EventRecord{
		DecisionID: "d1", Seq: 1, At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Event: event.DecisionEvent{Type: event.KindValidate}, IdempotencyKey: "k1",
	}
	h, err := store.HashRecord(base)
	require.NoError(t, err)

	diffAt := base
	diffAt.At = base.At.Add(time.Second)
	hDiffAt, err := store.HashRecord(diffAt)
	require.NoError(t, err)
	require.NotEqual(t, h, hDiffAt)

	diffKey := base
	diffKey.IdempotencyKey = "k2"
	hDiffKey, err := store.HashRecord(diffKey)
	require.NoError(t, err)
	require.NotEqual(t, h, hDiffKey)
}

// Invariant: sequence numbers are assigned densely starting at 1 and each
// record's prev_hash links to the previous record's hash.
func TestAppendEvent_ChainsSequentialHashes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var hashes []string
	for i := 0; i < 3; i++ {
		rec, _, err := s.AppendEvent(ctx, store.EventRecord{
			DecisionID: "d1", At: now.Add(time.Duration(i) * time.Second),
			Event: event.DecisionEvent{Type: event.KindValidate},
		})
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), rec.Seq)
		hashes = append(hashes, rec.Hash)
	}

	events, err := s.ListEvents(ctx, "d1", 1)
	require.NoError(t, err)
	require.Equal(t, "", events[0].PrevHash)
	require.Equal(t, hashes[0], events[1].PrevHash)
	require.Equal(t, hashes[1], events[2].PrevHash)
}

// Invariant: PutDecision enforces optimistic-concurrency on the expected
// version, rejecting a write based on a stale read.
func TestPutDecision_RejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d := event.NewDraft("d1", map[string]any{}, now)
	require.NoError(t, s.PutDecision(ctx, d, nil))

	stale := uint64(0)
	d.Version = 1
	require.NoError(t, s.PutDecision(ctx, d, &stale))

	got, existed, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, uint64(1), got.Version)

	wrong := uint64(0)
	d.Version = 2
	err = s.PutDecision(ctx, d, &wrong)
	require.Error(t, err)
}

// Invariant: BackfillHashChain recomputes a dense, correctly-linked hash
// chain for events that were inserted with no hash at all.
func TestBackfillHashChain_FillsMissingHashes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, _, err := s.AppendEvent(ctx, store.EventRecord{
			DecisionID: "d1", At: now.Add(time.Duration(i) * time.Second),
			Event: event.DecisionEvent{Type: event.KindValidate},
		})
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, "d1", 1)
	require.NoError(t, err)
	for _, e := range events {
		require.NotEmpty(t, e.Hash)
	}
	for _, e := range events {
		e.PrevHash, e.Hash = "", ""
		require.NoError(t, s.OverwriteEventRecordForTest(ctx, e))
	}

	require.NoError(t, s.BackfillHashChain(ctx))

	rechained, err := s.ListEvents(ctx, "d1", 1)
	require.NoError(t, err)
	for _, e := range rechained {
		require.NotEmpty(t, e.Hash)
	}
	require.Equal(t, "", rechained[0].PrevHash)
	require.Equal(t, rechained[0].Hash, rechained[1].PrevHash)
	require.Equal(t, rechained[1].Hash, rechained[2].PrevHash)
}

// Invariant: ListReceipts and ListAnchors return a decision's own rows,
// in ascending sequence order, filtering out rows belonging to other
// decisions.
func TestListReceiptsAndListAnchors_ScopedToDecision(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.PutReceipt(ctx, store.Receipt{
			DecisionID: "d1", EventSeq: uint64(i + 1), ReceiptHash: "h1", CreatedAt: now,
		}))
	}
	require.NoError(t, s.PutReceipt(ctx, store.Receipt{
		DecisionID: "d2", EventSeq: 1, ReceiptHash: "h2", CreatedAt: now,
	}))

	receipts, err := s.ListReceipts(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, uint64(1), receipts[0].EventSeq)
	require.Equal(t, uint64(2), receipts[1].EventSeq)

	_, err = s.AppendAnchor(ctx, store.Anchor{At: now, DecisionID: "d1", SnapshotUpToSeq: 1})
	require.NoError(t, err)
	_, err = s.AppendAnchor(ctx, store.Anchor{At: now, DecisionID: "d2", SnapshotUpToSeq: 1})
	require.NoError(t, err)
	_, err = s.AppendAnchor(ctx, store.Anchor{At: now, DecisionID: "d1", SnapshotUpToSeq: 2})
	require.NoError(t, err)

	anchors, err := s.ListAnchors(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	for _, a := range anchors {
		require.Equal(t, "d1", a.DecisionID)
	}
}

// Invariant: PruneAnchors keeps only the most recent N anchors and
// re-chains their prev_hash/hash/seq so the truncated chain still verifies
// from its new genesis.
func TestPruneAnchors_KeepsTailAndRechains(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var seqs []uint64
	for i := 0; i < 5; i++ {
		a, err := s.AppendAnchor(ctx, store.Anchor{At: now.Add(time.Duration(i) * time.Second), DecisionID: "d1", SnapshotUpToSeq: uint64(i + 1)})
		require.NoError(t, err)
		seqs = append(seqs, a.Seq)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)

	require.NoError(t, s.PruneAnchors(ctx, 2))

	all, err := s.AllAnchorsOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(1), all[0].Seq)
	require.Equal(t, "", all[0].PrevHash)
	require.Equal(t, uint64(2), all[1].Seq)
	require.Equal(t, all[0].Hash, all[1].PrevHash)

	want, err := store.AnchorHash(store.Anchor{
		Seq: all[0].Seq, At: all[0].At, DecisionID: all[0].DecisionID, SnapshotUpToSeq: all[0].SnapshotUpToSeq,
		CheckpointHash: all[0].CheckpointHash, RootHash: all[0].RootHash, StateHash: all[0].StateHash, PrevHash: all[0].PrevHash,
	})
	require.NoError(t, err)
	require.Equal(t, want, all[0].Hash)
}
