// Package manyerr implements the ManyError wire taxonomy (SPEC_FULL.md 7).
package manyerr

import "fmt"

// Reserved (negative) error codes. Application backends are free to use
// any non-negative code.
const (
	CodeMalformedEnvelope      = -1
	CodeUnknownAlg             = -2
	CodeSignatureMismatch      = -3
	CodeIdentityMismatch       = -4
	CodeAnonymousDisallowed    = -5
	CodeNonWebAuthnDenied      = -6
	CodeUnknownMethod          = -7
	CodeDuplicateEndpoint      = -8
	CodeDeserializationError   = -9
	CodeSerializationError     = -10
	CodeSenderCannotBeAnon     = -11
	CodeAsyncUnknown           = -12
	CodeAsyncExpired           = -13
	CodeAsyncTimeout           = -14
	CodeUnexpectedResponder    = -15
	CodeInternalServerError    = -16
)

// ManyError is the taxonomy record carried in every error ResponseMessage.
type ManyError struct {
	Code      int64             `cbor:"0,keyasint"`
	Message   string            `cbor:"1,keyasint"`
	Arguments map[string]string `cbor:"2,keyasint,omitempty"`
}

// Error implements the error interface.
func (e *ManyError) Error() string {
	if e == nil {
		return "<nil ManyError>"
	}
	return fmt.Sprintf("many error %d: %s", e.Code, e.Message)
}

func newf(code int64, format string, args ...any) *ManyError {
	return &ManyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func MalformedEnvelope(reason string) *ManyError {
	return newf(CodeMalformedEnvelope, "malformed envelope: %s", reason)
}

func UnknownAlg(alg int64) *ManyError {
	return newf(CodeUnknownAlg, "unknown or unsupported algorithm %d", alg)
}

func SignatureMismatch() *ManyError {
	return newf(CodeSignatureMismatch, "signature verification failed")
}

func IdentityMismatch() *ManyError {
	return newf(CodeIdentityMismatch, "protected header kid does not match the derived identity")
}

func AnonymousDisallowed() *ManyError {
	return newf(CodeAnonymousDisallowed, "anonymous senders are not permitted for this request")
}

func NonWebAuthnRequestDenied() *ManyError {
	return newf(CodeNonWebAuthnDenied, "endpoint requires a WebAuthn-attested request")
}

func UnknownMethod(method string) *ManyError {
	return newf(CodeUnknownMethod, "unknown method %q", method)
}

func DuplicateEndpoint(name string) *ManyError {
	return newf(CodeDuplicateEndpoint, "endpoint %q is already registered", name)
}

func DeserializationError(reason string) *ManyError {
	return newf(CodeDeserializationError, "failed to decode argument: %s", reason)
}

func SerializationError(reason string) *ManyError {
	return newf(CodeSerializationError, "failed to encode result: %s", reason)
}

func SenderCannotBeAnonymous() *ManyError {
	return newf(CodeSenderCannotBeAnon, "sender cannot be anonymous for this request")
}

func AsyncUnknown(token string) *ManyError {
	return newf(CodeAsyncUnknown, "unknown async token %q", token)
}

func AsyncExpired(token string) *ManyError {
	return newf(CodeAsyncExpired, "async token %q expired before completion", token)
}

func AsyncTimeout() *ManyError {
	return newf(CodeAsyncTimeout, "async poll budget exhausted before resolution")
}

func UnexpectedResponder() *ManyError {
	return newf(CodeUnexpectedResponder, "response sender does not match the expected destination")
}

// InternalServerError wraps an opaque internal failure without leaking it.
// Panics recovered at the dispatcher boundary MUST go through this
// constructor rather than exposing the recovered value verbatim.
func InternalServerError() *ManyError {
	return newf(CodeInternalServerError, "internal server error")
}

// Wrap converts an arbitrary Go error into a backend-opaque ManyError,
// preserving it unchanged if it already is one.
func Wrap(err error) *ManyError {
	if err == nil {
		return nil
	}
	if me, ok := err.(*ManyError); ok {
		return me
	}
	return newf(CodeInternalServerError, "%s", err.Error())
}
