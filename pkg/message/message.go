// Package message implements the RequestMessage/ResponseMessage schema
// (SPEC_FULL.md 3, 6): canonical CBOR maps keyed by small integers,
// following the integer-keyed-struct-tag style used in the teacher's
// pkg/cose ProtectedHeaders/CWTClaimsSet.
package message

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
)

// Version is the only RequestMessage/ResponseMessage wire version this
// implementation speaks.
const Version = 1

// Attribute namespaces a capability group; arguments are attribute-specific
// CBOR-encoded blobs (SPEC_FULL.md 3).
type Attribute struct {
	ID        uint32   `cbor:"0,keyasint"`
	Arguments [][]byte `cbor:"1,keyasint,omitempty"`
}

// AsyncAttributeID is the well-known attribute id carrying a deferred-result
// token on a ResponseMessage (SPEC_FULL.md 4.6).
const AsyncAttributeID uint32 = 1

// AsyncAttribute wraps an opaque async task token as Attribute arguments.
func AsyncAttribute(token []byte) Attribute {
	return Attribute{ID: AsyncAttributeID, Arguments: [][]byte{token}}
}

// Token extracts the token from an AsyncAttribute, if present.
func (a Attribute) Token() ([]byte, bool) {
	if a.ID != AsyncAttributeID || len(a.Arguments) == 0 {
		return nil, false
	}
	return a.Arguments[0], true
}

// wireRequest is the exact CBOR map shape from SPEC_FULL.md 6.
type wireRequest struct {
	Version   uint64      `cbor:"0,keyasint"`
	From      []byte      `cbor:"1,keyasint"`
	To        []byte      `cbor:"2,keyasint"`
	Method    string      `cbor:"3,keyasint"`
	Data      []byte      `cbor:"4,keyasint"`
	Timestamp int64       `cbor:"5,keyasint"`
	ID        *uint64     `cbor:"6,keyasint,omitempty"`
	Nonce     []byte      `cbor:"7,keyasint,omitempty"`
	Attrs     []Attribute `cbor:"8,keyasint,omitempty"`
}

// RequestMessage is a decoded, typed MANY request.
type RequestMessage struct {
	From       identity.Identity
	To         identity.Identity
	Method     string
	Data       []byte
	Timestamp  time.Time
	ID         *uint64
	Nonce      []byte
	Attributes []Attribute
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("message: build canonical CBOR encoder: %v", err))
	}
	return mode
}()

// Encode serialises the request to canonical CBOR.
func (m RequestMessage) Encode() ([]byte, error) {
	w := wireRequest{
		Version:   Version,
		From:      m.From.Bytes(),
		To:        m.To.Bytes(),
		Method:    m.Method,
		Data:      m.Data,
		Timestamp: m.Timestamp.UnixMilli(),
		ID:        m.ID,
		Nonce:     m.Nonce,
		Attrs:     m.Attributes,
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, manyerr.SerializationError(err.Error())
	}
	return data, nil
}

// DecodeRequestMessage parses a canonical CBOR RequestMessage map.
func DecodeRequestMessage(data []byte) (RequestMessage, error) {
	var w wireRequest
	if err := cbor.Unmarshal(data, &w); err != nil {
		return RequestMessage{}, manyerr.DeserializationError(err.Error())
	}
	if w.Version != Version {
		return RequestMessage{}, manyerr.MalformedEnvelope(fmt.Sprintf("unsupported message version %d", w.Version))
	}
	from, err := identity.TryFromBytes(w.From)
	if err != nil {
		return RequestMessage{}, manyerr.MalformedEnvelope("bad from identity: " + err.Error())
	}
	to, err := identity.TryFromBytes(w.To)
	if err != nil {
		return RequestMessage{}, manyerr.MalformedEnvelope("bad to identity: " + err.Error())
	}
	return RequestMessage{
		From:       from,
		To:         to,
		Method:     w.Method,
		Data:       w.Data,
		Timestamp:  time.UnixMilli(w.Timestamp),
		ID:         w.ID,
		Nonce:      w.Nonce,
		Attributes: w.Attrs,
	}, nil
}

// wireResponse is the ResponseMessage CBOR map (SPEC_FULL.md 6), except that
// the error sits under its own key 9 rather than sharing key 4 with data;
// data and error are mutually exclusive, matching "data-or-error".
type wireResponse struct {
	Version   uint64            `cbor:"0,keyasint"`
	From      []byte            `cbor:"1,keyasint"`
	To        []byte            `cbor:"2,keyasint,omitempty"`
	Data      []byte            `cbor:"4,keyasint,omitempty"`
	Error     *manyerr.ManyError `cbor:"9,keyasint,omitempty"`
	Timestamp int64             `cbor:"5,keyasint"`
	ID        *uint64           `cbor:"6,keyasint,omitempty"`
	Attrs     []Attribute       `cbor:"8,keyasint,omitempty"`
}

// ResponseMessage is a decoded, typed MANY response. Exactly one of Data or
// Err is meaningful on any given value.
type ResponseMessage struct {
	From       identity.Identity
	To         identity.Identity
	HasTo      bool
	Data       []byte
	Err        *manyerr.ManyError
	Timestamp  time.Time
	ID         *uint64
	Attributes []Attribute
}

// IsError reports whether this response carries a ManyError instead of data.
func (r ResponseMessage) IsError() bool {
	return r.Err != nil
}

// AsyncToken returns the token carried by an AsyncAttribute, if present.
func (r ResponseMessage) AsyncToken() ([]byte, bool) {
	for _, a := range r.Attributes {
		if tok, ok := a.Token(); ok {
			return tok, true
		}
	}
	return nil, false
}

// Encode serialises the response to canonical CBOR.
func (r ResponseMessage) Encode() ([]byte, error) {
	w := wireResponse{
		Version:   Version,
		From:      r.From.Bytes(),
		Data:      r.Data,
		Error:     r.Err,
		Timestamp: r.Timestamp.UnixMilli(),
		ID:        r.ID,
		Attrs:     r.Attributes,
	}
	if r.HasTo {
		w.To = r.To.Bytes()
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, manyerr.SerializationError(err.Error())
	}
	return data, nil
}

// DecodeResponseMessage parses a canonical CBOR ResponseMessage map.
// When expectedTo is non-nil, the decoded from-identity must equal it,
// otherwise UnexpectedResponder is returned (prevents response substitution).
func DecodeResponseMessage(data []byte, expectedTo *identity.Identity) (ResponseMessage, error) {
	var w wireResponse
	if err := cbor.Unmarshal(data, &w); err != nil {
		return ResponseMessage{}, manyerr.DeserializationError(err.Error())
	}
	if w.Version != Version {
		return ResponseMessage{}, manyerr.MalformedEnvelope(fmt.Sprintf("unsupported message version %d", w.Version))
	}
	from, err := identity.TryFromBytes(w.From)
	if err != nil {
		return ResponseMessage{}, manyerr.MalformedEnvelope("bad from identity: " + err.Error())
	}
	resp := ResponseMessage{
		From:       from,
		Data:       w.Data,
		Err:        w.Error,
		Timestamp:  time.UnixMilli(w.Timestamp),
		ID:         w.ID,
		Attributes: w.Attrs,
	}
	if len(w.To) > 0 {
		to, err := identity.TryFromBytes(w.To)
		if err != nil {
			return ResponseMessage{}, manyerr.MalformedEnvelope("bad to identity: " + err.Error())
		}
		resp.To = to
		resp.HasTo = true
	}
	if expectedTo != nil && !resp.From.Equal(*expectedTo) {
		return ResponseMessage{}, manyerr.UnexpectedResponder()
	}
	return resp, nil
}
