package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brianh20/many-go/pkg/client"
	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/kvstore"
)

func newGetTokenIDCommand() *cobra.Command {
	var (
		serverURL string
		to        string
		keyPath   string
	)

	cmd := &cobra.Command{
		Use:   "get-token-id --server <url> --to <identity> <symbol>",
		Short: "Look up a symbol's token identity via kvstore.getTokenId",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := args[0]

			toID, err := identity.FromText(to)
			if err != nil {
				return fmt.Errorf("parse --to identity: %w", err)
			}
			s, err := loadSigner(keyPath)
			if err != nil {
				return err
			}

			c := client.New(serverURL, toID, s)
			var result kvstore.GetTokenIdReturns
			_, err = c.Call(kvstore.Namespace+".getTokenId", kvstore.GetTokenIdArgs{Symbol: symbol}, &result, false)
			if err != nil {
				return fmt.Errorf("getTokenId(%q): %w", symbol, err)
			}
			fmt.Println(result.ID.ToText())
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server URL")
	cmd.Flags().StringVar(&to, "to", "", "textual identity of the destination server")
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key file for signing (anonymous if omitted)")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
