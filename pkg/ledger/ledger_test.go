package ledger_test

import (
	"testing"
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/crypto"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledger"
	"github.com/stretchr/testify/require"
)

// Invariant: Append assigns dense 1-based sequence numbers and chains
// prev_hash to the previous entry's hash, starting from a fixed genesis
// sentinel.
func TestAppend_ChainsSequentially(t *testing.T) {
	l := ledger.New(nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e1, err := l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, DecisionID: "d1"}, now)
	require.NoError(t, err)
	require.Equal(t, uint64(1), e1.Seq)

	e2, err := l.Append(ledger.Entry{Type: ledger.EntrySnapshotCreated, DecisionID: "d1"}, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(2), e2.Seq)
	require.Equal(t, e1.Hash, e2.PrevHash)

	ok, failSeq, reason := ledger.Verify(l.Range(1, l.Head()), nil)
	require.True(t, ok, reason)
	require.Zero(t, failSeq)
}

// Invariant: a ledger constructed with a signer signs every entry, and
// Verify checks the signature against the ring in addition to the hash
// chain.
func TestAppend_SignsEntriesWhenRingProvided(t *testing.T) {
	ring := crypto.NewKeyRing()
	signer, err := crypto.NewEd25519Signer("key-1")
	require.NoError(t, err)
	ring.AddKey(signer)

	l := ledger.New(ring)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e, err := l.Append(ledger.Entry{Type: ledger.EntryAnchorAppended, DecisionID: "d1"}, now)
	require.NoError(t, err)
	require.NotEmpty(t, e.Sig)
	require.Equal(t, "ed25519:key-1", e.KeyID)

	ok, _, reason := ledger.Verify(l.Range(1, l.Head()), ring)
	require.True(t, ok, reason)
}

// Invariant: an entry stamped with a tenant ID is signed with a key
// derived for that tenant, not the ring's master key, and Verify still
// checks out since the derived key gets registered on the same ring.
func TestAppend_SignsWithTenantDerivedKeyWhenTenantIDSet(t *testing.T) {
	ring := crypto.NewKeyRing()
	signer, err := crypto.NewEd25519Signer("key-1")
	require.NoError(t, err)
	ring.AddKey(signer)

	l := ledger.New(ring)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e, err := l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, TenantID: "tenant-a"}, now)
	require.NoError(t, err)
	require.Equal(t, "ed25519:key-1:tenant:tenant-a", e.KeyID)

	ok, _, reason := ledger.Verify(l.Range(1, l.Head()), ring)
	require.True(t, ok, reason)

	again, err := ring.AddTenantKey("tenant-a")
	require.NoError(t, err)
	require.Equal(t, "key-1:tenant:tenant-a", again.KeyID(), "derivation is deterministic given the same master key and tenant id")
}

// Invariant: Verify detects a tampered hash and a broken prev_hash link,
// each reporting the offending seq.
func TestVerify_DetectsTamperAndBrokenLink(t *testing.T) {
	l := ledger.New(nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, DecisionID: "d1"}, now)
	require.NoError(t, err)
	_, err = l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, DecisionID: "d1"}, now.Add(time.Second))
	require.NoError(t, err)

	entries := l.Range(1, l.Head())
	tampered := append([]ledger.Entry(nil), entries...)
	tampered[1].Hash = "deadbeef"
	ok, failSeq, reason := ledger.Verify(tampered, nil)
	require.False(t, ok)
	require.Equal(t, uint64(2), failSeq)
	require.NotEmpty(t, reason)

	broken := append([]ledger.Entry(nil), entries...)
	broken[1].PrevHash = "not-the-real-prev"
	ok, failSeq, _ = ledger.Verify(broken, nil)
	require.False(t, ok)
	require.Equal(t, uint64(2), failSeq)
}

// Invariant: ForTenant filters the full log down to entries stamped with
// the given tenant, and Get/Range use 1-based indices consistently.
func TestForTenant_FiltersByTenantID(t *testing.T) {
	l := ledger.New(nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, TenantID: "tenant-a"}, now)
	require.NoError(t, err)
	_, err = l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, TenantID: "tenant-b"}, now.Add(time.Second))
	require.NoError(t, err)
	_, err = l.Append(ledger.Entry{Type: ledger.EntryDecisionEventAppended, TenantID: "tenant-a"}, now.Add(2*time.Second))
	require.NoError(t, err)

	onlyA := l.ForTenant("tenant-a")
	require.Len(t, onlyA, 2)

	e, ok := l.Get(2)
	require.True(t, ok)
	require.Equal(t, "tenant-b", e.TenantID)

	_, ok = l.Get(0)
	require.False(t, ok)
	_, ok = l.Get(99)
	require.False(t, ok)
}
