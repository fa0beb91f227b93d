// cachectl inspects and maintains a marketglass SQLite cache file.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/marketglass/client-go/reqcache"
)

var dbPath string

func openStore(ctx context.Context) (reqcache.PersistentStore, error) {
	if dbPath == "" {
		dbPath = os.Getenv("MARKETGLASS_CACHE_DB")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("no cache db: pass --db or set MARKETGLASS_CACHE_DB")
	}
	return reqcache.NewSQLiteStore(ctx, dbPath, time.Minute)
}

var rootCmd = &cobra.Command{
	Use:   "cachectl",
	Short: "Inspect and maintain a marketglass cache database",
}

var keysCmd = &cobra.Command{
	Use:   "keys [prefix]",
	Short: "List cached keys, optionally filtered by prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		keys, err := store.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show envelope metadata for one key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		blob, found, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key not found: %s", args[0])
		}
		meta, err := reqcache.DecodeEntryMeta(blob)
		if err != nil {
			return err
		}
		fmt.Printf("version:  %d\n", meta.Version)
		fmt.Printf("savedAt:  %s\n", meta.SavedAt.Format(time.RFC3339))
		fmt.Printf("expireAt: %s\n", meta.ExpireAt.Format(time.RFC3339))
		fmt.Printf("payload:  %d bytes\n", meta.PayloadBytes)
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <prefix>",
	Short: "Delete every key starting with prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := store.Keys(ctx, args[0])
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := store.Delete(ctx, k); err != nil {
				return err
			}
		}
		fmt.Printf("deleted %d entries\n", len(keys))
		return nil
	},
}

var olderThan string

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete entries saved longer ago than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := str2duration.ParseDuration(olderThan)
		if err != nil {
			return fmt.Errorf("bad --older-than: %w", err)
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := store.Keys(ctx, "")
		if err != nil {
			return err
		}
		boundary := time.Now().Add(-d)
		deleted := 0
		for _, k := range keys {
			blob, found, err := store.Get(ctx, k)
			if err != nil || !found {
				continue
			}
			meta, err := reqcache.DecodeEntryMeta(blob)
			if err != nil || meta.SavedAt.Before(boundary) {
				// Undecodable entries are purged too.
				if err := store.Delete(ctx, k); err != nil {
					return err
				}
				deleted++
			}
		}
		fmt.Printf("deleted %d entries\n", deleted)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the cache database (defaults to MARKETGLASS_CACHE_DB)")
	purgeCmd.Flags().StringVar(&olderThan, "older-than", "1d", "age threshold, e.g. 12h, 1d, 1w")
	rootCmd.AddCommand(keysCmd, getCmd, invalidateCmd, purgeCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
