// Package security implements envelope authentication for inbound
// governance requests: signature verification over a signed envelope,
// and session-key derivation for downstream escrow payload sealing.
// The core consumes signed envelopes; it does not issue identities
// (spec §1 Non-goal iii — SPIFFE-style identity issuance is out of
// scope).
//
// Grounded on
// _examples/Generativebots-ocx-backend-go-svc/internal/federation/crypto.go
// (VerifySignature, SecureCompare, DeriveSessionKey) and
// internal/identity/spiffe.go's SVID-verification interface shape.
package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope is the signed wrapper around a governance request's raw
// bytes, as produced by a caller holding a SPIFFE SVID or an
// equivalent signing identity.
type Envelope struct {
	Body      []byte
	Signature []byte
	PublicKeyPEM []byte
}

// VerifyEnvelope checks an ECDSA signature over Body using the
// supplied PEM-encoded public key. A nil/empty Signature is treated as
// "no envelope signature present" (callers decide whether that's
// acceptable for a given transport).
func VerifyEnvelope(e Envelope) error {
	if len(e.Signature) == 0 {
		return fmt.Errorf("security: envelope has no signature")
	}
	pub, err := ParsePublicKeyPEM(e.PublicKeyPEM)
	if err != nil {
		return fmt.Errorf("security: parse public key: %w", err)
	}
	digest := sha256.Sum256(e.Body)
	if !ecdsa.VerifyASN1(pub, digest[:], e.Signature) {
		return fmt.Errorf("security: signature verification failed")
	}
	return nil
}

// ParsePublicKeyPEM decodes a PEM-encoded PKIX ECDSA public key.
func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("security: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("security: public key is not ECDSA")
	}
	return ecdsaPub, nil
}

// SecureCompare performs a constant-time comparison, used anywhere two
// digests or tokens must be compared without leaking timing
// information.
func SecureCompare(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// DeriveSessionKey derives a 32-byte key (suitable for
// internal/escrow's nacl/secretbox sealer) from a shared secret and a
// per-session salt via HKDF-SHA256.
func DeriveSessionKey(secret, salt []byte, info string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// HashAttestation returns a stable hex digest of an attestation
// payload, used to correlate a signal's value with what was attested.
func HashAttestation(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Signer abstracts the crypto.Signer interface the teacher's
// federation package uses for outbound signing. The governance core
// only verifies signatures; nothing in it signs through this interface.
type Signer interface {
	crypto.Signer
}
