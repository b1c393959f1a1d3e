package envelope_test

import (
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/cosekey"
	"github.com/brianh20/many-go/pkg/envelope"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/signer"
)

// rawCoseSign1 mirrors envelope's private coseSign1 wire shape so this test
// can forge an unprotected header without reaching into the package.
type rawCoseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signature   []byte
}

func newSigner(t *testing.T) *signer.SoftwareSigner {
	t.Helper()
	kp, err := cosekey.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := signer.NewSoftwareSigner(kp.Private)
	if err != nil {
		t.Fatalf("new software signer: %v", err)
	}
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := newSigner(t)
	payload := []byte{0x63, 'f', 'o', 'o'}

	data, err := envelope.Encode(payload, s, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := envelope.Decode(data, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Payload) != string(payload) {
		t.Error("decoded payload does not match original")
	}

	wantID, err := s.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if !decoded.Sender.Equal(wantID) {
		t.Error("decoded sender identity does not match signer's identity")
	}
}

func TestAnonymousEnvelope(t *testing.T) {
	anon := signer.NewAnonymousSigner()
	payload := []byte("hello")

	data, err := envelope.Encode(payload, anon, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	t.Run("accepted when allowed", func(t *testing.T) {
		decoded, err := envelope.Decode(data, true)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !decoded.Sender.IsAnonymous() {
			t.Error("expected an anonymous sender")
		}
	})

	t.Run("rejected when disallowed", func(t *testing.T) {
		if _, err := envelope.Decode(data, false); err == nil {
			t.Error("expected an error when anonymous senders are disallowed")
		}
	})
}

func TestTamperedSignatureIsRejected(t *testing.T) {
	s := newSigner(t)
	data, err := envelope.Encode([]byte("payload"), s, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tampered := append([]byte{}, data...)
	tampered[len(tampered)-1] ^= 0xff

	if _, err := envelope.Decode(tampered, true); err == nil {
		t.Error("expected a verification failure for a tampered envelope")
	}
}

func TestEmbeddedKeyMismatchIsRejected(t *testing.T) {
	a := newSigner(t)
	b := newSigner(t)

	data, err := envelope.Encode([]byte("payload"), a, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	bKey, err := b.PublicCOSEKey()
	if err != nil {
		t.Fatalf("b's public cose key: %v", err)
	}

	// Swap in signer b's embedded public key while keeping a's kid and
	// signature, simulating a forged "cosekey" unprotected header.
	swapped := swapEmbeddedKey(t, data, bKey)

	if _, err := envelope.Decode(swapped, true); err == nil {
		t.Error("expected an identity mismatch when the embedded key doesn't match the kid")
	} else if me, ok := asManyError(err); ok && me.Code != manyerr.CodeIdentityMismatch {
		t.Errorf("expected identity mismatch code %d, got %d", manyerr.CodeIdentityMismatch, me.Code)
	}
}

func TestHasWebAuthn(t *testing.T) {
	s := newSigner(t)

	t.Run("false by default", func(t *testing.T) {
		data, err := envelope.Encode([]byte("payload"), s, false)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		has, err := envelope.HasWebAuthn(data)
		if err != nil {
			t.Fatalf("has webauthn: %v", err)
		}
		if has {
			t.Error("expected no webauthn label")
		}
	})

	t.Run("true when requested", func(t *testing.T) {
		data, err := envelope.Encode([]byte("payload"), s, true)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		has, err := envelope.HasWebAuthn(data)
		if err != nil {
			t.Fatalf("has webauthn: %v", err)
		}
		if !has {
			t.Error("expected a webauthn label")
		}
	})
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := envelope.Decode([]byte{0x00, 0x01, 0x02}, true); err == nil {
		t.Error("expected an error for malformed envelope bytes")
	}
}

func asManyError(err error) (*manyerr.ManyError, bool) {
	me, ok := err.(*manyerr.ManyError)
	return me, ok
}

// swapEmbeddedKey re-encodes a COSE_Sign1 envelope with the unprotected
// "cosekey" entry replaced, without re-signing, to simulate a forged embedded
// key while the kid and signature remain bound to the original signer.
func swapEmbeddedKey(t *testing.T, data []byte, newKey []byte) []byte {
	t.Helper()

	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		t.Fatalf("unmarshal tag: %v", err)
	}
	var env rawCoseSign1
	if err := cbor.Unmarshal(tag.Content, &env); err != nil {
		t.Fatalf("unmarshal cose_sign1: %v", err)
	}
	env.Unprotected["cosekey"] = newKey

	out, err := cbor.Marshal(cbor.Tag{Number: tag.Number, Content: env})
	if err != nil {
		t.Fatalf("marshal tampered envelope: %v", err)
	}
	return out
}
