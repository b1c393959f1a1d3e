package module

import "github.com/fxamacker/cbor/v2"

// AsyncStatusArgs is async.status's CBOR argument: the token from an
// AsyncAttribute a prior call returned. Exported so both the server's
// async.status endpoint and the client's poll loop share one wire shape.
type AsyncStatusArgs struct {
	Token []byte `cbor:"0,keyasint"`
}

// Wire discriminants for AsyncStatusReturns.Status. These mirror AsyncStatus
// but are a separate, stable wire encoding independent of internal iota
// ordering.
const (
	WireAsyncUnknown uint64 = iota
	WireAsyncQueued
	WireAsyncProcessing
	WireAsyncDone
	WireAsyncExpired
)

// AsyncStatusReturns is async.status's CBOR result. Response holds the
// encoded inner ResponseMessage when Status == WireAsyncDone; it is empty
// otherwise. A discriminant-plus-optional-payload shape stands in for a
// CBOR union, since fxamacker/cbor's keyasint struct tags bind one Go field
// per key rather than a tagged variant.
type AsyncStatusReturns struct {
	Status   uint64 `cbor:"0,keyasint"`
	Response []byte `cbor:"1,keyasint,omitempty"`
}

// EncodeAsyncStatusArgs/DecodeAsyncStatusReturns are small convenience
// wrappers so callers outside this package don't need their own CBOR
// plumbing for the async.status round trip.
func EncodeAsyncStatusArgs(token []byte) ([]byte, error) {
	return cbor.Marshal(AsyncStatusArgs{Token: token})
}

func DecodeAsyncStatusReturns(data []byte) (AsyncStatusReturns, error) {
	var r AsyncStatusReturns
	if err := cbor.Unmarshal(data, &r); err != nil {
		return AsyncStatusReturns{}, err
	}
	return r, nil
}
