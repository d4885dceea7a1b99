// Package ledger implements the enterprise audit log: a global,
// hash-chained, optionally signed append-only record of
// decision/snapshot/anchor events, independent of any single decision's own
// event chain.
package ledger

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
	"github.com/mindburn-labs/ledgerkernel/pkg/crypto"
)

// EntryType enumerates the kinds of entry the enterprise ledger records.
type EntryType string

const (
	EntryDecisionEventAppended EntryType = "DECISION_EVENT_APPENDED"
	EntrySnapshotCreated       EntryType = "SNAPSHOT_CREATED"
	EntryAnchorAppended        EntryType = "ANCHOR_APPENDED"
)

// Entry is one enterprise_ledger row.
type Entry struct {
	Seq             uint64         `json:"seq"`
	At              time.Time      `json:"at"`
	TenantID        string         `json:"tenant_id,omitempty"`
	Type            EntryType      `json:"type"`
	DecisionID      string         `json:"decision_id,omitempty"`
	EventSeq        uint64         `json:"event_seq,omitempty"`
	SnapshotUpToSeq uint64         `json:"snapshot_up_to_seq,omitempty"`
	AnchorSeq       uint64         `json:"anchor_seq,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	PrevHash        string         `json:"prev_hash,omitempty"`
	Hash            string         `json:"hash"`
	SigAlg          string         `json:"sig_alg,omitempty"`
	KeyID           string         `json:"key_id,omitempty"`
	Sig             string         `json:"sig,omitempty"`
}

// hashFields pins the exact field set hashed into Entry.Hash.
type hashFields struct {
	Seq             uint64         `json:"seq"`
	At              time.Time      `json:"at"`
	TenantID        string         `json:"tenant_id,omitempty"`
	Type            EntryType      `json:"type"`
	DecisionID      string         `json:"decision_id,omitempty"`
	EventSeq        uint64         `json:"event_seq,omitempty"`
	SnapshotUpToSeq uint64         `json:"snapshot_up_to_seq,omitempty"`
	AnchorSeq       uint64         `json:"anchor_seq,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	PrevHash        string         `json:"prev_hash,omitempty"`
}

func computeHash(e Entry) (string, error) {
	return canon.Hash(hashFields{
		Seq: e.Seq, At: e.At, TenantID: e.TenantID, Type: e.Type,
		DecisionID: e.DecisionID, EventSeq: e.EventSeq,
		SnapshotUpToSeq: e.SnapshotUpToSeq, AnchorSeq: e.AnchorSeq,
		Payload: e.Payload, PrevHash: e.PrevHash,
	})
}

// Ledger is an in-process, hash-chained append-only log. Callers needing
// durability pair it with a store.Store-backed persistence layer; Ledger
// itself only maintains the chain invariant and optional signing, matching
// the teacher repo's habit of keeping hash-chain bookkeeping separate from
// the SQL that durably persists it.
type Ledger struct {
	entries  []Entry
	headHash string
	signer   *crypto.KeyRing
}

// New constructs an empty ledger. If signer is non-nil, every appended
// entry is signed: entries with a TenantID use that tenant's derived
// sub-key (KeyRing.SignerForTenant), the rest use the ring's active key.
func New(signer *crypto.KeyRing) *Ledger {
	return &Ledger{headHash: "genesis", signer: signer}
}

// Append computes seq, prev_hash and hash for e and appends it.
func (l *Ledger) Append(e Entry, at time.Time) (Entry, error) {
	e.Seq = uint64(len(l.entries)) + 1
	e.At = at
	e.PrevHash = l.headHash

	h, err := computeHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = h

	if l.signer != nil {
		payload, err := canon.JCS(hashFields{
			Seq: e.Seq, At: e.At, TenantID: e.TenantID, Type: e.Type,
			DecisionID: e.DecisionID, EventSeq: e.EventSeq,
			SnapshotUpToSeq: e.SnapshotUpToSeq, AnchorSeq: e.AnchorSeq,
			Payload: e.Payload, PrevHash: e.PrevHash,
		})
		if err != nil {
			return Entry{}, err
		}
		signer, err := l.signer.SignerForTenant(e.TenantID)
		if err != nil {
			return Entry{}, err
		}
		sigHex, err := signer.Sign(payload)
		if err != nil {
			return Entry{}, err
		}
		e.SigAlg = crypto.SigAlgEd25519
		e.KeyID = crypto.EncodeSigType(signer.KeyID())
		e.Sig = sigHex
	}

	l.entries = append(l.entries, e)
	l.headHash = e.Hash
	return e, nil
}

// Get returns the entry at seq (1-based).
func (l *Ledger) Get(seq uint64) (Entry, bool) {
	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[seq-1], true
}

// Range returns entries with seq in [start, end], inclusive, 1-based.
func (l *Ledger) Range(start, end uint64) []Entry {
	if start == 0 {
		start = 1
	}
	if end > uint64(len(l.entries)) {
		end = uint64(len(l.entries))
	}
	if start > end {
		return nil
	}
	return append([]Entry(nil), l.entries[start-1:end]...)
}

// ForTenant filters Range(1, Head()) by tenant ID.
func (l *Ledger) ForTenant(tenantID string) []Entry {
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}

// Head returns the highest committed sequence number.
func (l *Ledger) Head() uint64 { return uint64(len(l.entries)) }

// Verify walks the whole chain recomputing and comparing each entry's
// hash, prev_hash linkage, and (if ring is non-nil) its signature.
func Verify(entries []Entry, ring *crypto.KeyRing) (ok bool, failSeq uint64, reason string) {
	prev := "genesis"
	for _, e := range entries {
		if e.PrevHash != prev {
			return false, e.Seq, "prev_hash mismatch"
		}
		want, err := computeHash(e)
		if err != nil || want != e.Hash {
			return false, e.Seq, "hash mismatch"
		}
		if ring != nil && e.Sig != "" {
			payload, err := canon.JCS(hashFields{
				Seq: e.Seq, At: e.At, TenantID: e.TenantID, Type: e.Type,
				DecisionID: e.DecisionID, EventSeq: e.EventSeq,
				SnapshotUpToSeq: e.SnapshotUpToSeq, AnchorSeq: e.AnchorSeq,
				Payload: e.Payload, PrevHash: e.PrevHash,
			})
			if err != nil {
				return false, e.Seq, "payload re-encode error"
			}
			valid, err := ring.VerifyWithRing(e.KeyID, e.Sig, payload)
			if err != nil || !valid {
				return false, e.Seq, "signature verification failed"
			}
		}
		prev = e.Hash
	}
	return true, 0, ""
}
