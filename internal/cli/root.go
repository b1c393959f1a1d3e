// Package cli implements the many-server command surface (SPEC_FULL.md
// 12), supplemented from original_source/src/many-cli/src/main.rs:
// id, hsm-id, message, server, get-token-id. Command wiring follows the
// teacher's cobra root-command-plus-subcommands shape.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brianh20/many-go/pkg/signer"
)

var verbose bool

// NewRootCommand builds the many-server root cobra command.
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "many-server",
		Short: "MANY protocol server and CLI",
		Long: `many-server runs and exercises a MANY-protocol RPC endpoint:
signed CBOR request/response envelopes dispatched to registered modules
over HTTP, plus small debugging commands for identities and single
requests.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newIDCommand())
	rootCmd.AddCommand(newHSMIDCommand())
	rootCmd.AddCommand(newMessageCommand())
	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newGetTokenIDCommand())

	return rootCmd
}

// loadSigner builds a Signer from a PEM private key file, or the anonymous
// signer when keyPath is empty. Shared by the "message" and "get-token-id"
// debugging commands.
func loadSigner(keyPath string) (signer.Signer, error) {
	if keyPath == "" {
		return signer.NewAnonymousSigner(), nil
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	s, err := signer.NewSoftwareSignerFromPEM(string(data))
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	return s, nil
}
