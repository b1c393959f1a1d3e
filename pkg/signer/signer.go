// Package signer implements the MANY Signer abstraction (SPEC_FULL.md 4.2):
// software ECDSA signers, the anonymous signer, and (in hsm.go) a
// PKCS#11-backed hardware signer.
package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/brianh20/many-go/pkg/cosekey"
	"github.com/brianh20/many-go/pkg/identity"
)

// AlgorithmES256 is the COSE algorithm identifier for ECDSA P-256 + SHA-256.
const AlgorithmES256 int64 = -7

// Signer produces COSE_Sign1 signatures and exposes the identity bound to
// the signing key.
type Signer interface {
	// Identity returns the Identity derived from this signer's public key
	// (identity.Anonymous for the anonymous signer).
	Identity() (identity.Identity, error)
	// PublicCOSEKey returns the canonical COSE_Key CBOR encoding of the
	// signer's public key, or nil for the anonymous signer.
	PublicCOSEKey() ([]byte, error)
	// Algorithm returns the COSE algorithm identifier this signer uses.
	Algorithm() int64
	// Sign signs the exact bytes of a COSE Sig_structure and returns the
	// raw signature value (IEEE P1363 r||s for ECDSA).
	Sign(sigStructure []byte) ([]byte, error)
}

// SoftwareSigner signs with an in-process ECDSA P-256 private key.
type SoftwareSigner struct {
	private *ecdsa.PrivateKey
}

// NewSoftwareSigner wraps a loaded ECDSA private key as a Signer.
func NewSoftwareSigner(private *ecdsa.PrivateKey) (*SoftwareSigner, error) {
	if private == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	return &SoftwareSigner{private: private}, nil
}

// NewSoftwareSignerFromPEM loads a PKCS#8 PEM-encoded private key.
func NewSoftwareSignerFromPEM(pemData string) (*SoftwareSigner, error) {
	key, err := cosekey.ImportPrivatePEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("load software signer key: %w", err)
	}
	return NewSoftwareSigner(key)
}

func (s *SoftwareSigner) Identity() (identity.Identity, error) {
	return identity.FromPublicKey(&s.private.PublicKey)
}

func (s *SoftwareSigner) PublicCOSEKey() ([]byte, error) {
	return cosekey.MarshalPublicCBOR(&s.private.PublicKey)
}

func (s *SoftwareSigner) Algorithm() int64 { return AlgorithmES256 }

func (s *SoftwareSigner) Sign(sigStructure []byte) ([]byte, error) {
	hashed := sha256.Sum256(sigStructure)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.private, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	sig := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := sVal.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig, nil
}

// VerifyES256 verifies an IEEE P1363 (r||s) signature against a SHA-256
// hash of sigStructure, used by the envelope codec on decode.
func VerifyES256(pub *ecdsa.PublicKey, sigStructure, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	hashed := sha256.Sum256(sigStructure)
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(pub, hashed[:], r, s)
}

// AnonymousSigner produces unsigned envelopes: empty kid, empty signature.
type AnonymousSigner struct{}

func NewAnonymousSigner() *AnonymousSigner { return &AnonymousSigner{} }

func (AnonymousSigner) Identity() (identity.Identity, error) { return identity.Anonymous, nil }
func (AnonymousSigner) PublicCOSEKey() ([]byte, error)        { return nil, nil }
func (AnonymousSigner) Algorithm() int64                      { return AlgorithmES256 }
func (AnonymousSigner) Sign([]byte) ([]byte, error)           { return nil, nil }
