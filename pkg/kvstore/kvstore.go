// Package kvstore implements the sample attribute-3 backend module
// (SPEC_FULL.md 4.8): info/get/getTokenId/put over a key/value table,
// grounded on the original many-rs source's
// server/module/_3_kvstore.rs (KvStoreModuleBackend trait: info, get).
// getTokenId and put are SPEC_FULL.md supplements with no trait
// counterpart in that file, added for scenario S4 and to demonstrate a
// mutating, deny_anonymous endpoint.
package kvstore

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/module"
)

const (
	// AttributeID is the attribute/namespace id this module claims.
	AttributeID uint32 = 3
	// Namespace prefixes every endpoint name ("kvstore.get", etc).
	Namespace = "kvstore"
)

// InfoReturns is kvstore.info's result: a content hash summarising the
// current table state.
type InfoReturns struct {
	Hash []byte `cbor:"0,keyasint"`
}

// GetArgs is kvstore.get's argument.
type GetArgs struct {
	Key []byte `cbor:"0,keyasint"`
}

// GetReturns is kvstore.get's result; Value is nil when the key is absent.
type GetReturns struct {
	Value []byte `cbor:"0,keyasint,omitempty"`
}

// GetTokenIdArgs is kvstore.getTokenId's argument.
type GetTokenIdArgs struct {
	Symbol string `cbor:"0,keyasint"`
}

// GetTokenIdReturns is kvstore.getTokenId's result.
type GetTokenIdReturns struct {
	ID identity.Identity `cbor:"0,keyasint"`
}

// PutArgs is kvstore.put's argument.
type PutArgs struct {
	Key   []byte `cbor:"0,keyasint"`
	Value []byte `cbor:"1,keyasint"`
}

// PutReturns is kvstore.put's (empty) result.
type PutReturns struct{}

// Backend is the storage contract the module dispatches to. Two
// implementations are provided: Memory (tests) and SQLite (sql.go,
// persistent).
type Backend interface {
	Info(sender identity.Identity) (InfoReturns, error)
	Get(sender identity.Identity, args GetArgs) (GetReturns, error)
	GetTokenID(sender identity.Identity, args GetTokenIdArgs) (GetTokenIdReturns, error)
	Put(sender identity.Identity, args PutArgs) (PutReturns, error)
}

// NewModule builds the kvstore Module from a Backend, wiring each endpoint's
// EndpointDescriptor the way a Rust #[many_module] expansion would have.
func NewModule(backend Backend) (*module.Module, error) {
	return module.NewModule(
		module.EndpointDescriptor{
			Name:      Namespace + ".info",
			SenderArg: true,
			Invoke: func(sender identity.Identity, _ interface{}) (interface{}, error) {
				return backend.Info(sender)
			},
			EncodeResult: encodeCBOR,
		},
		module.EndpointDescriptor{
			Name:      Namespace + ".get",
			SenderArg: true,
			DataArg:   true,
			DecodeArg: decodeArg[GetArgs],
			Invoke: func(sender identity.Identity, arg interface{}) (interface{}, error) {
				return backend.Get(sender, arg.(GetArgs))
			},
			EncodeResult: encodeCBOR,
		},
		module.EndpointDescriptor{
			Name:      Namespace + ".getTokenId",
			SenderArg: true,
			DataArg:   true,
			DecodeArg: decodeArg[GetTokenIdArgs],
			Invoke: func(sender identity.Identity, arg interface{}) (interface{}, error) {
				return backend.GetTokenID(sender, arg.(GetTokenIdArgs))
			},
			EncodeResult: encodeCBOR,
		},
		module.EndpointDescriptor{
			Name:          Namespace + ".put",
			SenderArg:     true,
			DataArg:       true,
			DenyAnonymous: true,
			DecodeArg:     decodeArg[PutArgs],
			Invoke: func(sender identity.Identity, arg interface{}) (interface{}, error) {
				return backend.Put(sender, arg.(PutArgs))
			},
			EncodeResult: encodeCBOR,
		},
	)
}

func decodeArg[T any](data []byte) (interface{}, error) {
	var v T
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeCBOR(result interface{}) ([]byte, error) {
	return cbor.Marshal(result)
}

// codeSymbolNotFound is a backend-local (non-negative) error code;
// reserved codes (negative) are core-protocol, per the doc on manyerr's
// Code* constants.
const codeSymbolNotFound = 100

// ErrSymbolNotFound is returned by GetTokenID when the symbol table has no
// entry for the requested symbol.
func ErrSymbolNotFound(symbol string) *manyerr.ManyError {
	return &manyerr.ManyError{
		Code:      codeSymbolNotFound,
		Message:   "symbol not found",
		Arguments: map[string]string{"symbol": symbol},
	}
}
