package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brianh20/many-go/pkg/signer"
)

func newHSMIDCommand() *cobra.Command {
	var (
		modulePath string
		slot       uint
		keyLabel   string
		pin        string
	)

	cmd := &cobra.Command{
		Use:   "hsm-id --module <path> --slot <n> --keyid <label>",
		Short: "Print the textual identity of a key held in an HSM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pin == "" {
				pin = os.Getenv("MANY_HSM_PIN")
			}
			s, err := signer.NewHSMSigner(signer.HSMConfig{
				ModulePath: modulePath,
				Slot:       slot,
				KeyLabel:   keyLabel,
				PIN:        pin,
			})
			if err != nil {
				return fmt.Errorf("open HSM signer: %w", err)
			}
			id, err := s.Identity()
			if err != nil {
				return fmt.Errorf("derive identity: %w", err)
			}
			fmt.Println(id.ToText())
			return nil
		},
	}

	cmd.Flags().StringVar(&modulePath, "module", "", "path to the PKCS#11 module")
	cmd.Flags().UintVar(&slot, "slot", 0, "PKCS#11 slot number")
	cmd.Flags().StringVar(&keyLabel, "keyid", "", "label of the EC key pair in the HSM")
	cmd.Flags().StringVar(&pin, "pin", "", "PKCS#11 user PIN (defaults to $MANY_HSM_PIN)")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("keyid")

	return cmd
}
