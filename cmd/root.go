package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bitdegrade/bdkv/cmd/kv"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "bdkv",
		Short: "embedded key-value store",
		Long: fmt.Sprintf(`bdKV (v%s)

An embedded, log-structured key-value store indexed by a bit-degrade tree,
with multi-version reads, snapshots and regex iteration.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of bdKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bdKV v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
