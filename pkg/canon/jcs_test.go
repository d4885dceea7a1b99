package canon_test

import (
	"testing"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
	"github.com/stretchr/testify/require"
)

// Invariant: canonicalization sorts object keys lexicographically
// regardless of the insertion order of the source map.
func TestJCS_SortsObjectKeys(t *testing.T) {
	a, err := canon.JCSString(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":3}`, a)
}

// Invariant: JCS is a pure function of its input — the same value always
// produces byte-identical output, which is what lets two independently
// constructed decisions compare equal by hash.
func TestJCS_Deterministic(t *testing.T) {
	v := map[string]any{"x": []any{1, 2, 3}, "y": map[string]any{"z": "w"}}
	a, err := canon.JCSString(v)
	require.NoError(t, err)
	b, err := canon.JCSString(v)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

// Invariant: a key whose value is nil/undefined is dropped entirely from
// the canonical encoding rather than rendered as "key":null.
func TestJCS_DropsNilValuedKeys(t *testing.T) {
	out, err := canon.JCSString(map[string]any{"present": "x", "absent": nil})
	require.NoError(t, err)
	require.Equal(t, `{"present":"x"}`, out)
}

// Invariant: array order is preserved verbatim.
func TestJCS_PreservesArrayOrder(t *testing.T) {
	out, err := canon.JCSString([]any{"c", "a", "b"})
	require.NoError(t, err)
	require.Equal(t, `["c","a","b"]`, out)
}

// Invariant: Hash is the lowercase-hex SHA-256 of the canonical encoding,
// and changing any field changes the hash.
func TestHash_ChangesWithContent(t *testing.T) {
	h1, err := canon.Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := canon.Hash(map[string]any{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
	require.Len(t, h1, 64)
}

// Invariant: Combine is not commutative — combine(l,r) != combine(r,l) in
// general — since the Merkle proof format records explicit sides.
func TestCombine_OrderSensitive(t *testing.T) {
	require.NotEqual(t, canon.Combine("l", "r"), canon.Combine("r", "l"))
}
