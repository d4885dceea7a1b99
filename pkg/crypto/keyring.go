package crypto

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KeyRing maps key IDs to signers, supporting rotation: new keys are added,
// old keys are revoked (not deleted, so verification of historical
// signatures still works) and the active signer is always the
// lexicographically-last non-revoked key ID, matching the convention that
// new key IDs sort after old ones (e.g. timestamp- or sequence-prefixed).
// Tenant sub-keys (IDs containing ":tenant:") are never selected as active.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]Signer
	revoked map[string]bool
}

// NewKeyRing constructs an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{signers: map[string]Signer{}, revoked: map[string]bool{}}
}

// AddKey registers s under its own KeyID.
func (k *KeyRing) AddKey(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
}

// RevokeKey marks keyID as no longer eligible to be selected as the active
// signer. Its public key remains available for verifying old signatures.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.revoked[keyID] = true
}

// Active returns the current signer: the lexicographically-last
// non-revoked key that is not a tenant sub-key.
func (k *KeyRing) Active() (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.signers))
	for id := range k.signers {
		if !k.revoked[id] && !strings.Contains(id, ":tenant:") {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("crypto: key ring has no active key")
	}
	sort.Strings(ids)
	return k.signers[ids[len(ids)-1]], nil
}

// PublicKeyFor returns the hex public key for keyID, including revoked
// keys, so historical signatures can still be verified.
func (k *KeyRing) PublicKeyFor(keyID string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[keyID]
	if !ok {
		return "", false
	}
	return s.PublicKeyHex(), true
}

// AddTenantKey derives a sub-key for tenantID from the ring's current active
// signer via HKDF and registers it under its own key ID, so ledger entries
// written on that tenant's behalf can be signed (and later verified)
// separately from the master key and from every other tenant's sub-key.
func (k *KeyRing) AddTenantKey(tenantID string) (Signer, error) {
	active, err := k.Active()
	if err != nil {
		return nil, err
	}
	ed, ok := active.(*Ed25519Signer)
	if !ok {
		return nil, fmt.Errorf("crypto: tenant key derivation requires an Ed25519Signer active key")
	}
	derived, err := ed.DeriveForTenant(tenantID)
	if err != nil {
		return nil, err
	}
	k.AddKey(derived)
	return derived, nil
}

// SignerForTenant returns the signer that should sign an entry on
// tenantID's behalf: the ring's active key when tenantID is empty, or a
// deterministically-derived tenant sub-key otherwise. Re-deriving on every
// call is intentional — HKDF derivation is deterministic and cheap enough
// that the ring need not cache per-tenant state beyond what AddTenantKey
// already registers for PublicKeyFor/VerifyWithRing lookups.
func (k *KeyRing) SignerForTenant(tenantID string) (Signer, error) {
	if tenantID == "" {
		return k.Active()
	}
	return k.AddTenantKey(tenantID)
}

// Sign signs payload with the active key and returns the "ed25519:keyid"
// signature type alongside the hex signature.
func (k *KeyRing) Sign(payload []byte) (sigType, sigHex string, err error) {
	signer, err := k.Active()
	if err != nil {
		return "", "", err
	}
	sigHex, err = signer.Sign(payload)
	if err != nil {
		return "", "", err
	}
	return EncodeSigType(signer.KeyID()), sigHex, nil
}

// VerifyWithRing verifies a payload against a "ed25519:keyid" sigType tag
// and hex signature, looking up the public key in the ring.
func (k *KeyRing) VerifyWithRing(sigType, sigHex string, payload []byte) (bool, error) {
	keyID, ok := DecodeSigType(sigType)
	if !ok {
		return false, fmt.Errorf("crypto: unsupported signature type %q", sigType)
	}
	pubHex, ok := k.PublicKeyFor(keyID)
	if !ok {
		return false, fmt.Errorf("crypto: unknown key id %q", keyID)
	}
	return Verify(pubHex, sigHex, payload)
}
