package receipt

import (
	"time"

	"github.com/mindburn-labs/ledgerkernel/pkg/canon"
	"github.com/mindburn-labs/ledgerkernel/pkg/crypto"
	"github.com/mindburn-labs/ledgerkernel/pkg/event"
)

// sealPayload pins the exact fields a seal signs: the decision's tamper
// hash plus the caller-supplied seal key, so re-sealing with the same key
// over an unchanged decision always reproduces byte-identical input to the
// signer.
type sealPayload struct {
	TamperHash string `json:"tamper_hash"`
	SealKey    string `json:"seal_key"`
}

// Seal signs d with ring's active key under sealKey. If a signature with
// the same SealKey already exists it is replaced in place rather than
// appended, so sealing twice with the same key leaves exactly one entry —
// the idempotence scenario S7 requires.
func Seal(d *event.Decision, ring *crypto.KeyRing, sealKey string, now time.Time) error {
	tamperHash, err := event.TamperHash(*d)
	if err != nil {
		return err
	}
	payload, err := canon.JCS(sealPayload{TamperHash: tamperHash, SealKey: sealKey})
	if err != nil {
		return err
	}
	sigType, sigHex, err := ring.Sign(payload)
	if err != nil {
		return err
	}

	sig := event.Signature{
		KeyID: sigType, Algorithm: crypto.SigAlgEd25519, Value: sigHex,
		SealedAt: now, SealKey: sealKey,
	}
	for i := range d.Signatures {
		if d.Signatures[i].SealKey == sealKey {
			d.Signatures[i] = sig
			return nil
		}
	}
	d.Signatures = append(d.Signatures, sig)
	return nil
}

// VerifySeal recomputes d's current tamper hash and checks it against
// every signature whose SealKey matches sealKey. A decision that has been
// tampered with after sealing (any field affecting the tamper hash
// changed) fails verification even though the stored signature bytes are
// untouched — that mismatch is exactly what SIGNATURE_TAMPERED reports.
func VerifySeal(d event.Decision, ring *crypto.KeyRing, sealKey string) (bool, error) {
	tamperHash, err := event.TamperHash(d)
	if err != nil {
		return false, err
	}
	payload, err := canon.JCS(sealPayload{TamperHash: tamperHash, SealKey: sealKey})
	if err != nil {
		return false, err
	}
	for _, sig := range d.Signatures {
		if sig.SealKey != sealKey {
			continue
		}
		ok, err := ring.VerifyWithRing(sig.KeyID, sig.Value, payload)
		if err != nil {
			return false, err
		}
		return ok, nil
	}
	return false, nil
}
