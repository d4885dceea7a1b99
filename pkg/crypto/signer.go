// Package crypto provides the Ed25519 signing primitives used to seal
// decisions and bind liability receipts to the key that witnessed them, and
// a KeyRing abstraction supporting key rotation.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SigAlgEd25519 is the only signature algorithm this kernel speaks.
const SigAlgEd25519 = "ed25519"

// Signer signs a payload and reports which key it used.
type Signer interface {
	KeyID() string
	Sign(payload []byte) (sigHex string, err error)
	PublicKeyHex() string
}

// Ed25519Signer signs with a single Ed25519 private key.
type Ed25519Signer struct {
	keyID   string
	priv    ed25519.PrivateKey
	pubHex  string
}

// NewEd25519Signer generates a fresh key pair under keyID. Intended for
// tests and local bootstrap; production callers should load a persisted
// key via NewEd25519SignerFromKey.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Ed25519Signer{keyID: keyID, priv: priv, pubHex: hex.EncodeToString(pub)}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(keyID string, priv ed25519.PrivateKey) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{keyID: keyID, priv: priv, pubHex: hex.EncodeToString(pub)}
}

func (s *Ed25519Signer) KeyID() string       { return s.keyID }
func (s *Ed25519Signer) PublicKeyHex() string { return s.pubHex }

// Sign returns the lowercase-hex signature over payload.
func (s *Ed25519Signer) Sign(payload []byte) (string, error) {
	sig := ed25519.Sign(s.priv, payload)
	return hex.EncodeToString(sig), nil
}

// tenantKDFInfo is the HKDF salt that scopes tenant derivation to this
// kernel, so the same master seed run through a different application's
// salt can never collide with a tenant sub-key derived here.
const tenantKDFInfo = "auditledger-tenant-kdf"

// DeriveForTenant derives a tenant-scoped signer from s's key material using
// HKDF-SHA256: s's Ed25519 seed is the input key material, tenantID is the
// HKDF "info" parameter, producing a deterministic per-tenant Ed25519
// keypair without persisting a separate key per tenant. The derived signer's
// KeyID embeds tenantID so PublicKeyFor/VerifyWithRing can recover which
// tenant sub-key signed a given payload.
func (s *Ed25519Signer) DeriveForTenant(tenantID string) (*Ed25519Signer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("crypto: tenant id must not be empty")
	}
	seed := s.priv.Seed()
	r := hkdf.New(sha256.New, seed, []byte(tenantKDFInfo), []byte(tenantID))
	tenantSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, tenantSeed); err != nil {
		return nil, fmt.Errorf("crypto: derive tenant key: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(tenantSeed)
	return NewEd25519SignerFromKey(s.keyID+":tenant:"+tenantID, priv), nil
}

// Verify checks a hex signature against a hex public key for payload.
func Verify(pubKeyHex, sigHex string, payload []byte) (bool, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: bad public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: bad signature hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: bad public key length %d", len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig), nil
}

// EncodeSigType renders the "ed25519:keyid" signature-type tag used to
// record which key in a rotation signed a given payload.
func EncodeSigType(keyID string) string {
	return SigAlgEd25519 + ":" + keyID
}

// DecodeSigType splits an "ed25519:keyid" tag back into algorithm and key
// ID. ok is false if alg isn't ed25519 or the tag is malformed.
func DecodeSigType(sigType string) (keyID string, ok bool) {
	const prefix = SigAlgEd25519 + ":"
	if len(sigType) <= len(prefix) || sigType[:len(prefix)] != prefix {
		return "", false
	}
	return sigType[len(prefix):], true
}
