package server

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/module"
)

func (s *Server) newAsyncModule() (*module.Module, error) {
	return module.NewModule(module.EndpointDescriptor{
		Name:    "async.status",
		DataArg: true,
		DecodeArg: func(data []byte) (interface{}, error) {
			var args module.AsyncStatusArgs
			if err := cbor.Unmarshal(data, &args); err != nil {
				return nil, err
			}
			return args, nil
		},
		Invoke: func(_ identity.Identity, arg interface{}) (interface{}, error) {
			args := arg.(module.AsyncStatusArgs)
			status, resp := s.async.Status(args.Token)
			switch status {
			case module.AsyncUnknown:
				return module.AsyncStatusReturns{Status: module.WireAsyncUnknown}, nil
			case module.AsyncQueued:
				return module.AsyncStatusReturns{Status: module.WireAsyncQueued}, nil
			case module.AsyncProcessing:
				return module.AsyncStatusReturns{Status: module.WireAsyncProcessing}, nil
			case module.AsyncExpired:
				return module.AsyncStatusReturns{Status: module.WireAsyncExpired}, nil
			case module.AsyncDone:
				encoded, err := resp.Encode()
				if err != nil {
					return nil, manyerr.Wrap(err)
				}
				return module.AsyncStatusReturns{Status: module.WireAsyncDone, Response: encoded}, nil
			default:
				return nil, manyerr.InternalServerError()
			}
		},
		EncodeResult: func(result interface{}) ([]byte, error) { return cbor.Marshal(result) },
	})
}
