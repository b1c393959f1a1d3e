// Package envelope implements the COSE_Sign1 envelope codec (SPEC_FULL.md
// 4.3, 6): canonical-CBOR encode/decode of a tagged COSE_Sign1 structure,
// Sig_structure construction, and signature verification against the
// embedded public key once its derived identity matches the protected-header
// kid.
//
// The toarray struct-tag / canonical EncMode style follows the teacher's
// cross-pollinated reference, Jointeg-ubirch-cose-client-go's cose_signer.go,
// rather than the teacher's own looser []interface{} + cbor.Marshal form.
package envelope

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/cosekey"
	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/signer"
)

// COSE header labels (SPEC_FULL.md 6). labelCOSEKey lives in the
// unprotected bucket: MANY identities are self-certifying (the identity IS
// the hash of the public key), so the sender's public key travels with the
// envelope instead of needing a directory lookup to verify against.
const (
	labelAlg      = 1
	labelKid      = 4
	labelWebAuthn = "webauthn"
	labelCOSEKey  = "cosekey"
	sign1Tag      = 18
	sig1Context   = "Signature1"
)

// coseSign1 is the 4-element COSE_Sign1 array (RFC 8152 4.2).
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signature   []byte
}

// sigStructure is the Sig_structure array signed over (RFC 8152 4.4).
type sigStructure struct {
	_               struct{} `cbor:",toarray"`
	Context         string
	ProtectedHeader []byte
	External        []byte
	Payload         []byte
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("envelope: build canonical CBOR encoder: %v", err))
	}
	return mode
}()

// protectedHeader is the decoded view of the COSE_Sign1 protected bucket.
type protectedHeader struct {
	Alg       int64
	Kid       []byte
	HasKid    bool
	WebAuthn  bool
}

func encodeProtectedHeader(h protectedHeader) ([]byte, error) {
	m := map[interface{}]interface{}{labelAlg: h.Alg}
	if h.HasKid {
		m[labelKid] = h.Kid
	}
	if h.WebAuthn {
		m[labelWebAuthn] = true
	}
	return encMode.Marshal(m)
}

func decodeProtectedHeader(data []byte) (protectedHeader, error) {
	var m map[interface{}]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return protectedHeader{}, fmt.Errorf("decode protected header: %w", err)
	}
	h := protectedHeader{}
	if v, ok := m[uint64(labelAlg)]; ok {
		h.Alg = toInt64(v)
	} else if v, ok := m[int64(labelAlg)]; ok {
		h.Alg = toInt64(v)
	}
	if v, ok := m[uint64(labelKid)]; ok {
		if b, ok := v.([]byte); ok {
			h.Kid = b
			h.HasKid = true
		}
	}
	if v, ok := m[labelWebAuthn]; ok {
		if b, ok := v.(bool); ok {
			h.WebAuthn = b
		}
	}
	return h, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

// Encode builds a tagged COSE_Sign1 over payload, signed by s. webauthn
// adds the protected "webauthn" label (used to satisfy check_webauthn
// endpoint policy).
func Encode(payload []byte, s signer.Signer, webauthn bool) ([]byte, error) {
	id, err := s.Identity()
	if err != nil {
		return nil, fmt.Errorf("derive signer identity: %w", err)
	}

	header := protectedHeader{Alg: s.Algorithm(), WebAuthn: webauthn}
	if !id.IsAnonymous() {
		header.Kid = id.Bytes()
		header.HasKid = true
	}

	protectedBytes, err := encodeProtectedHeader(header)
	if err != nil {
		return nil, err
	}

	toSign := sigStructure{
		Context:         sig1Context,
		ProtectedHeader: protectedBytes,
		External:        []byte{},
		Payload:         payload,
	}
	toSignBytes, err := encMode.Marshal(toSign)
	if err != nil {
		return nil, fmt.Errorf("encode Sig_structure: %w", err)
	}

	signature, err := s.Sign(toSignBytes)
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	unprotected := map[interface{}]interface{}{}
	if !id.IsAnonymous() {
		pubKey, err := s.PublicCOSEKey()
		if err != nil {
			return nil, fmt.Errorf("marshal signer public key: %w", err)
		}
		unprotected[labelCOSEKey] = pubKey
	}

	env := coseSign1{
		Protected:   protectedBytes,
		Unprotected: unprotected,
		Payload:     payload,
		Signature:   signature,
	}
	return encMode.Marshal(cbor.Tag{Number: sign1Tag, Content: env})
}

// Decoded holds a verified envelope's payload and sender identity.
// Sender is identity.Anonymous when the envelope carried no kid.
type Decoded struct {
	Payload []byte
	Sender  identity.Identity
}

// Decode parses and verifies a COSE_Sign1 envelope. The sender's public COSE
// key travels in the envelope's unprotected header, so verification needs no
// external key directory: the identity MANY addresses a sender by IS the
// hash of that embedded key, which Decode checks before trusting it.
// allowAnonymous gates whether a kid-less envelope is accepted (SPEC_FULL.md
// 4.3: "accepted only when message policy permits anonymous senders").
func Decode(data []byte, allowAnonymous bool) (Decoded, error) {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return Decoded{}, manyerr.MalformedEnvelope("not a CBOR-tagged value: " + err.Error())
	}
	if tag.Number != sign1Tag {
		return Decoded{}, manyerr.MalformedEnvelope(fmt.Sprintf("unexpected CBOR tag %d, want %d", tag.Number, sign1Tag))
	}

	var env coseSign1
	if err := cbor.Unmarshal(tag.Content, &env); err != nil {
		return Decoded{}, manyerr.MalformedEnvelope("bad COSE_Sign1 array: " + err.Error())
	}

	header, err := decodeProtectedHeader(env.Protected)
	if err != nil {
		return Decoded{}, manyerr.MalformedEnvelope(err.Error())
	}

	if !header.HasKid {
		if len(env.Signature) != 0 {
			return Decoded{}, manyerr.MalformedEnvelope("anonymous envelope carries a non-empty signature")
		}
		if !allowAnonymous {
			return Decoded{}, manyerr.AnonymousDisallowed()
		}
		return Decoded{Payload: env.Payload, Sender: identity.Anonymous}, nil
	}

	if header.Alg != signer.AlgorithmES256 {
		return Decoded{}, manyerr.UnknownAlg(header.Alg)
	}

	claimedIdentity, err := identity.TryFromBytes(header.Kid)
	if err != nil {
		return Decoded{}, manyerr.MalformedEnvelope("bad kid: " + err.Error())
	}

	rawPub, ok := env.Unprotected[labelCOSEKey]
	if !ok {
		return Decoded{}, manyerr.MalformedEnvelope("signed envelope is missing its embedded public key")
	}
	pubKeyBytes, ok := rawPub.([]byte)
	if !ok {
		return Decoded{}, manyerr.MalformedEnvelope("embedded public key is not a byte string")
	}
	pubKey, err := cosekey.UnmarshalPublicCBOR(pubKeyBytes)
	if err != nil {
		return Decoded{}, manyerr.MalformedEnvelope("decode embedded public key: " + err.Error())
	}

	derivedIdentity, err := identity.FromPublicKey(pubKey)
	if err != nil {
		return Decoded{}, manyerr.MalformedEnvelope("derive identity from embedded key: " + err.Error())
	}
	if !derivedIdentity.Equal(claimedIdentity) {
		return Decoded{}, manyerr.IdentityMismatch()
	}

	toSign := sigStructure{
		Context:         sig1Context,
		ProtectedHeader: env.Protected,
		External:        []byte{},
		Payload:         env.Payload,
	}
	toSignBytes, err := encMode.Marshal(toSign)
	if err != nil {
		return Decoded{}, manyerr.MalformedEnvelope("re-encode Sig_structure: " + err.Error())
	}

	if !signer.VerifyES256(pubKey, toSignBytes, env.Signature) {
		return Decoded{}, manyerr.SignatureMismatch()
	}

	return Decoded{Payload: env.Payload, Sender: claimedIdentity}, nil
}

// HasWebAuthn reports whether the envelope's protected header carried the
// "webauthn" label. It reads only the envelope bytes and does not verify
// the signature; pkg/server runs the verifying Decode before module
// validation calls this for check_webauthn policy.
func HasWebAuthn(data []byte) (bool, error) {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return false, manyerr.MalformedEnvelope(err.Error())
	}
	var env coseSign1
	if err := cbor.Unmarshal(tag.Content, &env); err != nil {
		return false, manyerr.MalformedEnvelope(err.Error())
	}
	header, err := decodeProtectedHeader(env.Protected)
	if err != nil {
		return false, manyerr.MalformedEnvelope(err.Error())
	}
	return header.WebAuthn, nil
}
