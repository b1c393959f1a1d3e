package cli

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brianh20/many-go/pkg/cosekey"
	"github.com/brianh20/many-go/pkg/identity"
)

func newIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "id <pem-key-file>",
		Short: "Print the textual identity derived from a public or private PEM key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}
			pub, err := publicKeyFromPEM(string(data))
			if err != nil {
				return err
			}
			id, err := identity.FromPublicKey(pub)
			if err != nil {
				return fmt.Errorf("derive identity: %w", err)
			}
			fmt.Println(id.ToText())
			return nil
		},
	}
}

// publicKeyFromPEM accepts either an SPKI public key PEM or a PKCS#8
// private key PEM, since the original CLI's "id" command works on either.
func publicKeyFromPEM(data string) (*ecdsa.PublicKey, error) {
	if pub, err := cosekey.ImportPublicPEM(data); err == nil {
		return pub, nil
	}
	priv, err := cosekey.ImportPrivatePEM(data)
	if err != nil {
		return nil, fmt.Errorf("key file is neither a valid public nor private PEM key: %w", err)
	}
	return &priv.PublicKey, nil
}
