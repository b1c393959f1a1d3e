package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brianh20/many-go/pkg/client"
	"github.com/brianh20/many-go/pkg/identity"
)

func newMessageCommand() *cobra.Command {
	var (
		serverURL string
		to        string
		keyPath   string
	)

	cmd := &cobra.Command{
		Use:   "message --server <url> --to <identity> <method> [cbor-hex]",
		Short: "Build, sign, and send a single request, printing the decoded response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]
			var data []byte
			if len(args) == 2 {
				decoded, err := hex.DecodeString(args[1])
				if err != nil {
					return fmt.Errorf("decode cbor-hex argument: %w", err)
				}
				data = decoded
			}

			toID, err := identity.FromText(to)
			if err != nil {
				return fmt.Errorf("parse --to identity: %w", err)
			}
			s, err := loadSigner(keyPath)
			if err != nil {
				return err
			}

			c := client.New(serverURL, toID, s)
			resp, err := c.CallRaw(method, data, false)
			if err != nil {
				return fmt.Errorf("call %s: %w", method, err)
			}
			if resp.IsError() {
				return fmt.Errorf("%s returned error %d: %s", method, resp.Err.Code, resp.Err.Message)
			}
			fmt.Printf("%x\n", resp.Data)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server URL to send the request to")
	cmd.Flags().StringVar(&to, "to", "", "textual identity of the destination server")
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key file for signing (anonymous if omitted)")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
