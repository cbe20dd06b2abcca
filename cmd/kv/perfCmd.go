package kv

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the key-value service",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfBucket           = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for the saltfish key-value service")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	benchmarks := []util.Benchmark{
		{
			Name:  "put",
			Setup: cleanupAfter(ctx, "put"),
			Op: func(i int) error {
				return rpcStore.Put(ctx, perfBucket, perfKey("put", i), value, nil)
			},
		},
		{
			Name:  "put-indexed",
			Setup: cleanupAfter(ctx, "put-indexed"),
			Op: func(i int) error {
				return rpcStore.Put(ctx, perfBucket, perfKey("put-indexed", i), value, store.Indexes{"n_int": int64(i)})
			},
		},
		{
			Name:  "put-large",
			Setup: cleanupAfter(ctx, "put-large"),
			Op: func(i int) error {
				return rpcStore.Put(ctx, perfBucket, perfKey("put-large", i), largeValue, nil)
			},
		},
		{
			Name:  "get",
			Setup: fillKeys(ctx, "get"),
			Op: func(i int) error {
				_, _, err := rpcStore.Get(ctx, perfBucket, perfKey("get", i))
				return err
			},
		},
		{
			Name:  "has-not",
			Setup: nil,
			Op: func(i int) error {
				_, err := rpcStore.Has(ctx, perfBucket, perfKey("has-not", i))
				return err
			},
		},
		{
			Name:  "index-range",
			Setup: fillKeys(ctx, "index-range"),
			Op: func(i int) error {
				lo := int64(i % perfKeySpread)
				_, err := rpcStore.IndexRange(ctx, perfBucket, "n_int", lo, lo+10, 10)
				return err
			},
		},
		{
			Name:  "delete",
			Setup: fillKeys(ctx, "delete"),
			Op: func(i int) error {
				return rpcStore.Delete(ctx, perfBucket, perfKey("delete", i))
			},
		},
		{
			Name:  "mixed",
			Setup: fillKeys(ctx, "mixed"),
			Op: func(i int) error {
				k := perfKey("mixed", i)
				var err error
				switch i % 4 {
				case 0: // put
					err = rpcStore.Put(ctx, perfBucket, k, value, nil)
				case 1: // get
					_, _, err = rpcStore.Get(ctx, perfBucket, k)
				case 2: // delete
					err = rpcStore.Delete(ctx, perfBucket, k)
				case 3: // has
					_, err = rpcStore.Has(ctx, perfBucket, k)
				}
				return err
			},
		},
	}

	results := util.RunBenchmarks(benchmarks, perfNumThreads, perfSkip)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := util.WriteResultsToCSV(csvPath, results, util.GetClientConfig(), perfNumThreads); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// perfKey returns one of perfKeySpread keys of a test (with wraparound)
func perfKey(test string, i int) []byte {
	return []byte(fmt.Sprintf("%s-%d", test, i%perfKeySpread))
}

// cleanupAfter returns a setup that deletes the keys of a test after the measurement
func cleanupAfter(ctx context.Context, test string) func() func() {
	return func() func() {
		return func() {
			for i := 0; i < perfKeySpread; i++ {
				if err := rpcStore.Delete(ctx, perfBucket, perfKey(test, i)); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", test, err)
				}
			}
		}
	}
}

// fillKeys returns a setup that writes the keys of a test before and deletes them after the measurement
func fillKeys(ctx context.Context, test string) func() func() {
	return func() func() {
		for i := 0; i < perfKeySpread; i++ {
			if err := rpcStore.Put(ctx, perfBucket, perfKey(test, i), []byte("test"), store.Indexes{"n_int": int64(i)}); err != nil {
				log.Printf("(%s) - error setting key: %v\n", test, err)
			}
		}
		return cleanupAfter(ctx, test)()
	}
}
