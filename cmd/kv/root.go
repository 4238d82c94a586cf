// Package kv implements the store-facing CLI commands.
package kv

import (
	"github.com/spf13/cobra"

	"github.com/bitdegrade/bdkv/cmd/util"
	"github.com/bitdegrade/bdkv/lib/db"
)

var (
	store db.DB

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: teardownStore,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common store flags to the KV command
	util.SetupStoreFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(batchCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(grepCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(inspectCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupStore opens the database directory configured via --dir
func setupStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	d, err := db.Open(util.GetDir(), db.Options{CreateIfMissing: util.GetCreate()})
	if err != nil {
		return err
	}
	store = d
	return nil
}

// teardownStore closes the database after the command ran
func teardownStore(_ *cobra.Command, _ []string) error {
	if store == nil {
		return nil
	}
	return store.Close()
}

// writeOpts builds the write options shared by all mutating commands.
func writeOpts() db.WriteOptions {
	return db.WriteOptions{Sync: util.GetSync()}
}
