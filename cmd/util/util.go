// Package util provides flag and configuration helpers shared by the CLI
// commands.
package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables. Flags
// bound through viper can then be set via BDKV_* variables or .env files.
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("bdkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags (and its parents' persistent
// flags) to viper so values resolve flag > env > default.
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// SetupStoreFlags adds the flags every store-touching command shares.
func SetupStoreFlags(cmd *cobra.Command) {
	key := "dir"
	cmd.PersistentFlags().String(key, "./bdkv-data", WrapString("Path of the database directory"))

	key = "create"
	cmd.PersistentFlags().Bool(key, true, WrapString("Create the database if it does not exist"))

	key = "sync"
	cmd.PersistentFlags().Bool(key, false, WrapString("fsync the data file after every write"))
}

// GetDir returns the configured database directory.
func GetDir() string {
	return viper.GetString("dir")
}

// GetCreate returns whether missing databases should be created.
func GetCreate() bool {
	return viper.GetBool("create")
}

// GetSync returns whether writes should fsync.
func GetSync() bool {
	return viper.GetBool("sync")
}
