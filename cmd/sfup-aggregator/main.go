// Command sfup-aggregator is a thin operator CLI over the aggregator,
// evidence, and key-provider libraries: run a round, verify an
// evidence chain, and manage key lifecycle.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configDir   string
	evidenceDir string
	verbose     bool

	rootCmd = &cobra.Command{
		Use:   "sfup-aggregator",
		Short: "Operator CLI for the secure federated update pipeline aggregator",
		Long:  `Run aggregation rounds, verify the evidence chain, and manage key lifecycle for an SFUP deployment.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the aggregator service, collecting and finalizing rounds",
		RunE:  runServe,
	}

	verifyEvidenceCmd = &cobra.Command{
		Use:   "verify-evidence",
		Short: "Verify the evidence log's hash chain is unbroken",
		RunE:  runVerifyEvidence,
	}

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Inspect and manage key lifecycle",
	}

	keysListCmd = &cobra.Command{
		Use:   "list",
		Short: "List known keys and their lifecycle state",
		RunE:  runKeysList,
	}

	keysRevokeCmd = &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysRevoke,
	}

	keysGenerateCmd = &cobra.Command{
		Use:   "generate [key-id]",
		Short: "Register a new key in state REGISTERED, auto-naming it if key-id is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runKeysGenerate,
	}

	keysActivateCmd = &cobra.Command{
		Use:   "activate <key-id>",
		Short: "Transition a REGISTERED key to ACTIVE",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysActivate,
	}

	keysRotateCmd = &cobra.Command{
		Use:   "rotate <old-key-id> <new-key-id>",
		Short: "Activate a new key and expire the old one as one operation",
		Args:  cobra.ExactArgs(2),
		RunE:  runKeysRotate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "d", "./sfup-data", "Configuration and key-store directory")
	rootCmd.PersistentFlags().StringVarP(&evidenceDir, "evidence-dir", "e", "./sfup-data/evidence", "Evidence log directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	runCmd.Flags().Int("quorum", 3, "Quorum threshold for round collection")
	runCmd.Flags().Int("backlog", 256, "Bounded receive queue capacity")

	keysGenerateCmd.Flags().Bool("security-192", false, "Use the 192-bit security parameter set instead of the 128-bit default")

	keysCmd.AddCommand(keysListCmd, keysRevokeCmd, keysGenerateCmd, keysActivateCmd, keysRotateCmd)
	rootCmd.AddCommand(runCmd, verifyEvidenceCmd, keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
