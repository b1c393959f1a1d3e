//go:build !pkcs11

package signer

import (
	"errors"

	"github.com/brianh20/many-go/pkg/identity"
)

// ErrHSMNotSupported is returned by NewHSMSigner and by the HSMSigner
// Identity, PublicCOSEKey and Sign methods when this binary was built
// without the pkcs11 build tag.
var ErrHSMNotSupported = errors.New("signer: built without pkcs11 support; rebuild with -tags pkcs11")

// HSMConfig mirrors the real build's configuration shape so callers compile
// unconditionally regardless of the build tag.
type HSMConfig struct {
	ModulePath string
	Slot       uint
	PIN        string
	KeyLabel   string
}

// HSMSigner is a stub that always fails; present so code that type-asserts
// on *HSMSigner compiles without the pkcs11 build tag.
type HSMSigner struct{}

func NewHSMSigner(HSMConfig) (*HSMSigner, error) {
	return nil, ErrHSMNotSupported
}

func (*HSMSigner) Identity() (identity.Identity, error) { return identity.Identity{}, ErrHSMNotSupported }
func (*HSMSigner) PublicCOSEKey() ([]byte, error)       { return nil, ErrHSMNotSupported }
func (*HSMSigner) Algorithm() int64                     { return AlgorithmES256 }
func (*HSMSigner) Sign([]byte) ([]byte, error)          { return nil, ErrHSMNotSupported }
func (*HSMSigner) Close() error                         { return nil }
