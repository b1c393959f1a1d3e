// Package identity implements the MANY identity: a short tagged binary
// value derived from a public COSE key, with an optional subresource
// index, plus its base32 textual encoding.
package identity

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/cosekey"
)

// tag bytes, mirroring the layout described in SPEC_FULL.md 4.1.
const (
	tagAnonymous  byte = 0x00
	tagPublicKey  byte = 0x01
	subresourceLen     = 3
	maxSubresource     = 1<<24 - 1
)

// Identity is a fixed-width tagged value. The zero Identity is anonymous.
type Identity struct {
	raw string // holds the canonical binary form
}

// Anonymous is the well-known anonymous identity: an empty body.
var Anonymous = Identity{}

// FromPublicKey derives a public-key identity: tag byte + 28-byte
// truncated SHA-224 of the canonical COSE-encoded public key.
func FromPublicKey(key *ecdsa.PublicKey) (Identity, error) {
	canonical, err := cosekey.MarshalPublicCBOR(key)
	if err != nil {
		return Identity{}, fmt.Errorf("canonicalize public key: %w", err)
	}
	digest := sha224Truncate(canonical)
	body := make([]byte, 0, 1+len(digest))
	body = append(body, tagPublicKey)
	body = append(body, digest...)
	return Identity{raw: string(body)}, nil
}

// sha224Truncate computes a genuine SHA-224 digest (not a truncated SHA-256).
func sha224Truncate(data []byte) []byte {
	h := sha256.New224()
	h.Write(data)
	return h.Sum(nil)
}

// WithSubresource returns a new identity carrying a 24-bit subresource index.
// It fails if id is anonymous, already subresourced, or sub exceeds 2^24-1.
func (id Identity) WithSubresource(sub uint32) (Identity, error) {
	if id.IsAnonymous() {
		return Identity{}, fmt.Errorf("cannot attach subresource to the anonymous identity")
	}
	if len(id.raw) != 1+28 {
		return Identity{}, fmt.Errorf("identity already carries a subresource")
	}
	if sub > maxSubresource {
		return Identity{}, fmt.Errorf("subresource %d exceeds 2^24-1", sub)
	}
	body := make([]byte, 0, len(id.raw)+subresourceLen)
	body = append(body, id.raw...)
	body = append(body, byte(sub>>16), byte(sub>>8), byte(sub))
	return Identity{raw: string(body)}, nil
}

// Parent strips a subresource index, returning the parent public-key identity.
// Returns an error if id carries no subresource.
func (id Identity) Parent() (Identity, error) {
	if len(id.raw) != 1+28+subresourceLen {
		return Identity{}, fmt.Errorf("identity has no subresource to strip")
	}
	return Identity{raw: id.raw[:1+28]}, nil
}

// IsAnonymous reports whether id is the anonymous identity.
func (id Identity) IsAnonymous() bool {
	return len(id.raw) == 0
}

// Bytes returns the canonical binary form.
func (id Identity) Bytes() []byte {
	return []byte(id.raw)
}

// TryFromBytes validates and wraps a canonical binary identity.
func TryFromBytes(b []byte) (Identity, error) {
	switch len(b) {
	case 0:
		return Anonymous, nil
	case 1 + 28, 1 + 28 + subresourceLen:
		if b[0] != tagPublicKey {
			return Identity{}, fmt.Errorf("unknown identity tag byte 0x%02x", b[0])
		}
		return Identity{raw: string(b)}, nil
	default:
		return Identity{}, fmt.Errorf("invalid identity length %d", len(b))
	}
}

const textPrefix = "m"

var b32 = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ToText renders the checksummed base32 textual form.
func (id Identity) ToText() string {
	body := id.Bytes()
	crc := crc32.ChecksumIEEE(body)
	crcBytes := []byte{byte(crc >> 24), byte(crc >> 16), byte(crc >> 8), byte(crc)}
	return textPrefix + b32.EncodeToString(body) + b32.EncodeToString(crcBytes)
}

// FromText parses the checksummed base32 textual form, case-insensitively.
func FromText(s string) (Identity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, textPrefix) {
		return Identity{}, fmt.Errorf("invalid textual identity: missing %q prefix", textPrefix)
	}
	s = strings.TrimPrefix(s, textPrefix)

	crcChars := b32.EncodedLen(4)
	if len(s) < crcChars {
		return Identity{}, fmt.Errorf("invalid textual identity: too short")
	}
	bodyPart := s[:len(s)-crcChars]
	crcPart := s[len(s)-crcChars:]

	body, err := b32.DecodeString(bodyPart)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid textual identity: bad base32 body: %w", err)
	}
	crcBytes, err := b32.DecodeString(crcPart)
	if err != nil || len(crcBytes) != 4 {
		return Identity{}, fmt.Errorf("invalid textual identity: bad checksum encoding")
	}

	want := crc32.ChecksumIEEE(body)
	got := uint32(crcBytes[0])<<24 | uint32(crcBytes[1])<<16 | uint32(crcBytes[2])<<8 | uint32(crcBytes[3])
	if want != got {
		return Identity{}, fmt.Errorf("invalid textual identity: checksum mismatch")
	}

	return TryFromBytes(body)
}

// String implements fmt.Stringer via the textual form, for logging.
func (id Identity) String() string {
	return id.ToText()
}

// MarshalCBOR encodes id as a CBOR byte string of its canonical binary form.
// Identity has only an unexported field, so without this method
// fxamacker/cbor would reflect over it as an empty struct and silently wire
// every identity as anonymous.
func (id Identity) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(id.Bytes())
}

// UnmarshalCBOR decodes a CBOR byte string produced by MarshalCBOR back into
// id, validating the tag byte and length the same way TryFromBytes does.
func (id *Identity) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal identity: %w", err)
	}
	parsed, err := TryFromBytes(raw)
	if err != nil {
		return fmt.Errorf("unmarshal identity: %w", err)
	}
	*id = parsed
	return nil
}

// Equal reports whether two identities are the same value.
func (id Identity) Equal(other Identity) bool {
	return id.raw == other.raw
}

// Less provides a total order so Identity can be used as a sorted map key
// or sort.Slice comparator; required by spec.md 4.1 ("total-order comparable").
func (id Identity) Less(other Identity) bool {
	return id.raw < other.raw
}
