package kv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [bucket] [key] [value]",
		Short: "Stores a value under a key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringSlice("index")
			indexes, err := parseIndexes(raw)
			if err != nil {
				return err
			}
			if err := rpcStore.Put(cmd.Context(), args[0], []byte(args[1]), []byte(args[2]), indexes); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [bucket] [key]",
		Short: "Reads the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, ok, err := rpcStore.Get(cmd.Context(), args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, resp=%s\n", args[1], ok, resp)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [bucket] [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcStore.Has(cmd.Context(), args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[1], found)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [bucket] [key]",
		Short: "Deletes a key and its index entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Delete(cmd.Context(), args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	rangeCmd = &cobra.Command{
		Use:   "range [bucket] [index] [min] [max]",
		Short: "Lists the keys whose index value lies in [min, max]",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			lo, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("min must be a number: %w", err)
			}
			hi, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("max must be a number: %w", err)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			keys, err := rpcStore.IndexRange(cmd.Context(), args[0], args[1], lo, hi, limit)
			if err != nil {
				return err
			}
			printKeys(keys)
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys [bucket]",
		Short: "Lists all keys of a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := rpcStore.Keys(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printKeys(keys)
			return nil
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop [bucket]",
		Short: "Deletes a bucket with all of its keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.DeleteBucket(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("drop successfully")
			return nil
		},
	}
)

func init() {
	putCmd.Flags().StringSlice("index", nil, "Integer index of the object as name=value, can be repeated")
	rangeCmd.Flags().Int("limit", 0, "Maximum number of keys, 0 lists all")
}

// parseIndexes parses "name=value" pairs
func parseIndexes(raw []string) (store.Indexes, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	indexes := make(store.Indexes, len(raw))
	for _, r := range raw {
		name, value, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("invalid index %q, expected name=value", r)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index %s must be a number: %w", name, err)
		}
		indexes[strings.TrimSpace(name)] = v
	}
	return indexes, nil
}

func printKeys(keys [][]byte) {
	for _, k := range keys {
		fmt.Printf("%q\n", k)
	}
	fmt.Printf("(%d keys)\n", len(keys))
}
