package kv

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitdegrade/bdkv/cmd/util"
	"github.com/bitdegrade/bdkv/lib/db"
	"github.com/bitdegrade/bdkv/lib/env"
	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/regex"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.Put(writeOpts(), []byte(args[0]), []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Prints the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := store.Get(db.ReadOptions{}, []byte(args[0]))
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Println(string(value))
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.Remove(writeOpts(), []byte(args[0])); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}

	batchCmd = &cobra.Command{
		Use:   "batch [key=value]...",
		Short: "Writes several pairs atomically, compressed when it pays off",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kvs := make([]logf.KV, 0, len(args))
			raw := 0
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("argument %q is not key=value", arg)
				}
				kvs = append(kvs, logf.KV{Key: []byte(key), Value: []byte(value)})
				raw += len(key) + len(value)
			}
			opts := writeOpts()
			opts.Compress = true
			opts.UncompressSize = uint32(raw)
			if err := store.Write(opts, kvs); err != nil {
				return err
			}
			fmt.Printf("wrote %d pairs\n", len(kvs))
			return nil
		},
	}

	scanCmd = &cobra.Command{
		Use:   "scan [start-key]",
		Short: "Lists all entries in trie order, optionally from a start key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it := store.MakeIterator(nil)
			defer it.Close()
			if len(args) == 1 {
				it.Seek([]byte(args[0]))
			}
			count := 0
			for ; it.Valid(); it.Next() {
				fmt.Printf("%s\t%s\n", it.Key(), it.Value())
				count++
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Printf("(%d entries)\n", count)
			return nil
		},
	}

	grepCmd = &cobra.Command{
		Use:   "grep [pattern]",
		Short: "Lists entries whose key matches a regular expression",
		Long: util.WrapString("Lists entries whose full key matches the given " +
			"regular expression (RE2 syntax). The trie is pruned with partial-key " +
			"judgments, so unrelated subtrees are never read. Use --reverse to walk " +
			"in reverse trie order."),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := regex.Compile(args[0])
			if err != nil {
				return fmt.Errorf("bad pattern: %w", err)
			}
			reverse, _ := cmd.Flags().GetBool("reverse")

			var it db.Iterator
			if reverse {
				it = store.MakeRegexReversedIterator(r, nil)
			} else {
				it = store.MakeRegexIterator(r, nil)
			}
			defer it.Close()

			count := 0
			for ; it.Valid(); it.Next() {
				fmt.Printf("%s\t%s\n", it.Key(), it.Value())
				count++
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Printf("(%d matches)\n", count)
			return nil
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := store.GetInfo()
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Dumps the raw fragment structure of the data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Clean(util.GetDir())
			rf, err := env.OpenRandomAccessFile(filepath.Join(dir, filepath.Base(dir)+".data"))
			if err != nil {
				return err
			}
			defer rf.Close()

			return logf.ScanFragments(rf, func(off uint32, typ string, del, compress bool, length int) error {
				flags := ""
				if del {
					flags += " DEL"
				}
				if compress {
					flags += " COMPRESS"
				}
				fmt.Printf("%10d  %-6s %5d bytes%s\n", off, typ, length, flags)
				return nil
			})
		},
	}
)

func init() {
	grepCmd.Flags().Bool("reverse", false, util.WrapString("Walk matches in reverse trie order"))
}
