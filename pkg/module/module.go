// Package module implements the endpoint dispatcher (SPEC_FULL.md 4.4):
// a Go stand-in for the Rust many_module/many proc-macros, which expand a
// trait-like endpoint declaration into validate/execute glue at compile
// time. Go has no macro layer, so each module is assembled explicitly at
// construction time from an EndpointDescriptor slice, grounded on
// _examples/original_source/src/many-macros/src/lib.rs's Endpoint model
// (name, has_sender, arg, is_async, deny_anonymous, check_webauthn).
package module

import (
	"time"

	"github.com/brianh20/many-go/pkg/envelope"
	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/message"
)

// EndpointDescriptor is the Go data stand-in for one Rust #[many(...)] trait
// method: the bits the proc-macro would have read off the method signature
// plus the per-endpoint policy attributes, bundled with closures captured
// over the concrete backend at module-construction time.
type EndpointDescriptor struct {
	// Name is the full dispatch name, e.g. "kvstore.get" or "status".
	Name string

	// SenderArg reports whether Invoke wants the caller's identity.
	SenderArg bool
	// DataArg reports whether the endpoint takes a decoded CBOR argument.
	DataArg bool

	// DenyAnonymous rejects anonymous senders with SenderCannotBeAnonymous.
	DenyAnonymous bool
	// CheckWebAuthn requires the envelope to carry the "webauthn" protected
	// header label, else NonWebAuthnRequestDenied.
	CheckWebAuthn bool

	// DecodeArg decodes message.Data into the argument the backend expects.
	// Nil when DataArg is false.
	DecodeArg func(data []byte) (interface{}, error)

	// Invoke calls the backend method and returns the CBOR-encodable result
	// (or a Pending marker, deferring the response through the async
	// manager) or a *manyerr.ManyError.
	Invoke func(sender identity.Identity, arg interface{}) (interface{}, error)

	// EncodeResult serialises a successful Invoke result to CBOR.
	EncodeResult func(result interface{}) ([]byte, error)
}

// Module groups a set of EndpointDescriptors by name, exposing the
// validate/execute pair SPEC_FULL.md 4.4 describes. The server identity is
// supplied per call to Execute.
type Module struct {
	endpoints map[string]EndpointDescriptor
}

// NewModule builds a Module from its endpoints, rejecting duplicate names
// within the module itself (cross-module collisions are caught by the
// registry in pkg/server at registration time).
func NewModule(endpoints ...EndpointDescriptor) (*Module, error) {
	m := &Module{endpoints: make(map[string]EndpointDescriptor, len(endpoints))}
	for _, e := range endpoints {
		if _, exists := m.endpoints[e.Name]; exists {
			return nil, manyerr.DuplicateEndpoint(e.Name)
		}
		m.endpoints[e.Name] = e
	}
	return m, nil
}

// Names returns every endpoint name this module declares.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	return names
}

// Lookup returns the descriptor for a dispatch name.
func (m *Module) Lookup(name string) (EndpointDescriptor, bool) {
	e, ok := m.endpoints[name]
	return e, ok
}

// Validate runs the side-effect-free admission checks SPEC_FULL.md 4.4
// requires before execute is allowed to touch backend state: method lookup,
// deny_anonymous/check_webauthn policy, and argument decoding.
func (m *Module) Validate(req message.RequestMessage, rawEnvelope []byte) error {
	e, ok := m.endpoints[req.Method]
	if !ok {
		return manyerr.UnknownMethod(req.Method)
	}
	if e.DenyAnonymous && req.From.IsAnonymous() {
		return manyerr.SenderCannotBeAnonymous()
	}
	if e.CheckWebAuthn {
		ok, err := envelope.HasWebAuthn(rawEnvelope)
		if err != nil {
			return manyerr.Wrap(err)
		}
		if !ok {
			return manyerr.NonWebAuthnRequestDenied()
		}
	}
	if e.DataArg {
		if _, err := e.DecodeArg(req.Data); err != nil {
			return manyerr.DeserializationError(err.Error())
		}
	}
	return nil
}

// Execute runs an already-admitted request against the backend and wraps
// the outcome into a ResponseMessage per SPEC_FULL.md 4.4. serverIdentity is
// the From of the returned message.
func (m *Module) Execute(req message.RequestMessage, serverIdentity identity.Identity) (message.ResponseMessage, error) {
	e, ok := m.endpoints[req.Method]
	if !ok {
		return message.ResponseMessage{}, manyerr.UnknownMethod(req.Method)
	}

	var arg interface{}
	if e.DataArg {
		decoded, err := e.DecodeArg(req.Data)
		if err != nil {
			return message.ResponseMessage{}, manyerr.DeserializationError(err.Error())
		}
		arg = decoded
	}

	result, err := e.Invoke(req.From, arg)
	if err != nil {
		if me, ok := err.(*manyerr.ManyError); ok {
			return buildResponse(serverIdentity, req, nil, me), nil
		}
		return buildResponse(serverIdentity, req, nil, manyerr.Wrap(err)), nil
	}

	if pending, ok := result.(Pending); ok {
		resp := buildResponse(serverIdentity, req, nil, nil)
		resp.Attributes = append(resp.Attributes, message.AsyncAttribute(pending.Token))
		return resp, nil
	}

	data, err := e.EncodeResult(result)
	if err != nil {
		return message.ResponseMessage{}, manyerr.SerializationError(err.Error())
	}
	return buildResponse(serverIdentity, req, data, nil), nil
}

func buildResponse(from identity.Identity, req message.RequestMessage, data []byte, errResp *manyerr.ManyError) message.ResponseMessage {
	return message.ResponseMessage{
		From:      from,
		To:        req.From,
		HasTo:     true,
		Data:      data,
		Err:       errResp,
		Timestamp: time.Now(),
		ID:        req.ID,
	}
}

// Pending is the async marker an Invoke closure returns to defer its result
// through the async manager instead of answering inline (SPEC_FULL.md 4.6).
type Pending struct {
	Token []byte
}
