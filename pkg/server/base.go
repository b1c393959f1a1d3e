package server

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/module"
)

// ProtocolVersion is the RequestMessage/ResponseMessage wire version this
// server speaks; it has the same value as message.Version.
const ProtocolVersion = 1

// ServerVersion is this implementation's self-reported build version.
const ServerVersion = "many-go/0.1"

// BaseAttributeID is the attribute id the always-present base module
// advertises in status().
const BaseAttributeID uint32 = 0

// StatusReturns is base.status's result (SPEC_FULL.md 4.5).
type StatusReturns struct {
	Name            string            `cbor:"0,keyasint"`
	Version         string            `cbor:"1,keyasint"`
	PublicKey       []byte            `cbor:"2,keyasint,omitempty"`
	Identity        identity.Identity `cbor:"3,keyasint"`
	Attributes      []uint32          `cbor:"4,keyasint"`
	ServerVersion   string            `cbor:"5,keyasint"`
	ProtocolVersion uint64            `cbor:"6,keyasint"`
}

// EndpointsReturns is base.endpoints's result.
type EndpointsReturns struct {
	Endpoints []string `cbor:"0,keyasint"`
}

// newBaseModule builds the always-registered "base" module: status, echo,
// endpoints. attributes is the set of attribute ids to report in status()
// (BaseAttributeID plus one per registered domain module).
func (s *Server) newBaseModule() (*module.Module, error) {
	return module.NewModule(
		module.EndpointDescriptor{
			Name:      "base.status",
			SenderArg: true,
			Invoke: func(identity.Identity, interface{}) (interface{}, error) {
				pub, err := s.self.PublicCOSEKey()
				if err != nil {
					return nil, manyerr.Wrap(err)
				}
				return StatusReturns{
					Name:            s.cfg.Name,
					Version:         ServerVersion,
					PublicKey:       pub,
					Identity:        s.id,
					Attributes:      s.attributeIDs(),
					ServerVersion:   ServerVersion,
					ProtocolVersion: ProtocolVersion,
				}, nil
			},
			EncodeResult: func(result interface{}) ([]byte, error) { return cbor.Marshal(result) },
		},
		module.EndpointDescriptor{
			Name:    "base.echo",
			DataArg: true,
			DecodeArg: func(data []byte) (interface{}, error) {
				return data, nil
			},
			Invoke: func(_ identity.Identity, arg interface{}) (interface{}, error) {
				return arg.([]byte), nil
			},
			EncodeResult: func(result interface{}) ([]byte, error) {
				return result.([]byte), nil
			},
		},
		module.EndpointDescriptor{
			Name: "base.endpoints",
			Invoke: func(identity.Identity, interface{}) (interface{}, error) {
				return EndpointsReturns{Endpoints: s.Endpoints()}, nil
			},
			EncodeResult: func(result interface{}) ([]byte, error) { return cbor.Marshal(result) },
		},
	)
}

func (s *Server) attributeIDs() []uint32 {
	ids := map[uint32]struct{}{BaseAttributeID: {}}
	for _, attr := range s.attributes {
		ids[attr] = struct{}{}
	}
	out := make([]uint32, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}
