//go:build pkcs11

package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/brianh20/many-go/pkg/cosekey"
	"github.com/brianh20/many-go/pkg/identity"
)

// hsmRegistry is the process-global handle registry required by
// SPEC_FULL.md 4.2: a single initialised library handle and a single open
// session per (module path, slot) pair.
type hsmRegistry struct {
	mu       sync.Mutex
	handles  map[string]*pkcs11.Ctx
	sessions map[hsmKey]pkcs11.SessionHandle
}

type hsmKey struct {
	modulePath string
	slot       uint
}

var registry = &hsmRegistry{
	handles:  make(map[string]*pkcs11.Ctx),
	sessions: make(map[hsmKey]pkcs11.SessionHandle),
}

// HSMConfig binds a signer to a PKCS#11 slot/key.
type HSMConfig struct {
	ModulePath string
	Slot       uint
	PIN        string
	KeyLabel   string
}

// HSMSigner signs via a PKCS#11 session bound to a single EC key.
type HSMSigner struct {
	mu         sync.Mutex
	ctx        *pkcs11.Ctx
	session    pkcs11.SessionHandle
	privateKey pkcs11.ObjectHandle
	publicKey  *ecdsa.PublicKey
}

// NewHSMSigner opens (or reuses) the process-wide handle/session for
// (ModulePath, Slot) and locates the named EC key pair.
func NewHSMSigner(cfg HSMConfig) (*HSMSigner, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	ctx, ok := registry.handles[cfg.ModulePath]
	if !ok {
		ctx = pkcs11.New(cfg.ModulePath)
		if ctx == nil {
			return nil, fmt.Errorf("failed to load PKCS#11 module %q", cfg.ModulePath)
		}
		if err := ctx.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize PKCS#11: %w", err)
		}
		registry.handles[cfg.ModulePath] = ctx
	}

	key := hsmKey{modulePath: cfg.ModulePath, slot: cfg.Slot}
	session, ok := registry.sessions[key]
	if !ok {
		var err error
		session, err = ctx.OpenSession(cfg.Slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return nil, fmt.Errorf("open PKCS#11 session: %w", err)
		}
		if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			ctx.CloseSession(session)
			return nil, fmt.Errorf("PKCS#11 login: %w", err)
		}
		registry.sessions[key] = session
	}

	s := &HSMSigner{ctx: ctx, session: session}
	if err := s.findKey(cfg.KeyLabel); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HSMSigner) findKey(label string) error {
	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := s.ctx.FindObjectsInit(s.session, tmpl); err != nil {
		return fmt.Errorf("find private key init: %w", err)
	}
	objs, _, err := s.ctx.FindObjects(s.session, 1)
	s.ctx.FindObjectsFinal(s.session)
	if err != nil {
		return fmt.Errorf("find private key: %w", err)
	}
	if len(objs) == 0 {
		return fmt.Errorf("private key not found: %s", label)
	}
	s.privateKey = objs[0]

	pubTmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := s.ctx.FindObjectsInit(s.session, pubTmpl); err != nil {
		return fmt.Errorf("find public key init: %w", err)
	}
	pubObjs, _, err := s.ctx.FindObjects(s.session, 1)
	s.ctx.FindObjectsFinal(s.session)
	if err != nil {
		return fmt.Errorf("find public key: %w", err)
	}
	if len(pubObjs) == 0 {
		return fmt.Errorf("public key not found: %s", label)
	}
	return s.extractECPublicKey(pubObjs[0])
}

func (s *HSMSigner) extractECPublicKey(handle pkcs11.ObjectHandle) error {
	attrs, err := s.ctx.GetAttributeValue(s.session, handle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return fmt.Errorf("get EC public key attributes: %w", err)
	}

	p256OID := []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}
	if !bytesEqual(attrs[0].Value, p256OID) {
		return fmt.Errorf("only P-256 EC keys are supported by this signer")
	}

	point := attrs[1].Value
	if len(point) > 2 && point[0] == 0x04 && point[1] == byte(len(point)-2) {
		point = point[2:] // unwrap DER OCTET STRING framing some tokens add
	}
	if len(point) != 65 || point[0] != 0x04 {
		return fmt.Errorf("invalid uncompressed EC point")
	}

	x := new(big.Int).SetBytes(point[1:33])
	y := new(big.Int).SetBytes(point[33:65])
	s.publicKey = &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *HSMSigner) Identity() (identity.Identity, error) {
	return identity.FromPublicKey(s.publicKey)
}

func (s *HSMSigner) PublicCOSEKey() ([]byte, error) {
	return cosekey.MarshalPublicCBOR(s.publicKey)
}

func (s *HSMSigner) Algorithm() int64 { return AlgorithmES256 }

func (s *HSMSigner) Sign(sigStructure []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashed := sha256.Sum256(sigStructure)
	mechanism := pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	if err := s.ctx.SignInit(s.session, []*pkcs11.Mechanism{mechanism}, s.privateKey); err != nil {
		return nil, fmt.Errorf("HSM sign init: %w", err)
	}
	sig, err := s.ctx.Sign(s.session, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("HSM sign: %w", err)
	}
	return sig, nil
}

// Close does nothing: the process-wide handle and session are shared via
// the registry and are not torn down here; process exit reclaims them.
func (s *HSMSigner) Close() error { return nil }
