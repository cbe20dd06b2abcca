package util

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/viper"
)

// Benchmark is one named load test against a server
type Benchmark struct {
	Name string
	// Setup runs before every measurement round, the returned function after it. Both may be nil.
	Setup func() (cleanup func())
	// Op is a single measured operation, i counts the calls of the calling goroutine
	Op func(i int) error
}

// BenchResult is the outcome of a Benchmark
type BenchResult struct {
	Name    string
	Skipped bool
	Result  testing.BenchmarkResult
	// Latency holds the duration of every single operation
	Latency metrics.Timer
	Errors  metrics.Counter
}

// RunBenchmarks runs all benchmarks not named in skip one after another and prints their results.
// Every operation is executed by threads goroutines in parallel.
func RunBenchmarks(benchmarks []Benchmark, threads int, skip []string) []BenchResult {
	registry := metrics.NewRegistry()
	results := make([]BenchResult, 0, len(benchmarks))

	for _, bm := range benchmarks {
		res := BenchResult{
			Name:    bm.Name,
			Skipped: slices.Contains(skip, bm.Name),
			Latency: metrics.GetOrRegisterTimer(bm.Name+".latency", registry),
			Errors:  metrics.GetOrRegisterCounter(bm.Name+".errors", registry),
		}

		if !res.Skipped {
			res.Result = testing.Benchmark(func(b *testing.B) {
				if bm.Setup != nil {
					if cleanup := bm.Setup(); cleanup != nil {
						b.Cleanup(cleanup)
					}
				}

				b.SetParallelism(threads)
				b.ResetTimer()

				b.RunParallel(func(pb *testing.PB) {
					counter := 0
					for pb.Next() {
						start := time.Now()
						err := bm.Op(counter)
						res.Latency.UpdateSince(start)
						if err != nil {
							res.Errors.Inc(1)
						}
						counter++
					}
				})
			})
		}

		printResult(res)
		results = append(results, res)
	}
	return results
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(res BenchResult) {
	if res.Skipped || res.Result.N == 0 {
		fmt.Printf("%-20sskipped\n", res.Name)
		return
	}

	nsPerOp := math.Max(float64(res.Result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p := res.Latency.Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\terrors %d\n",
		res.Name, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(p[0]), time.Duration(p[1]), res.Errors.Count())
}

// WriteResultsToCSV writes benchmark results to a CSV file
func WriteResultsToCSV(csvPath string, results []BenchResult, config *common.ClientConfig, threads int) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ServiceID", "Serializer", "Transport", "Threads",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		var nsPerOp, opsPerSec float64
		skipped := res.Skipped || res.Result.N == 0
		if !skipped {
			nsPerOp = math.Max(float64(res.Result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		p := res.Latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			res.Name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", p[0]),
			fmt.Sprintf("%.0f", p[1]),
			strconv.FormatInt(res.Errors.Count(), 10),
			strconv.FormatBool(skipped),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			strconv.FormatUint(GetServiceID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(threads),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.Name, err)
		}
	}

	return nil
}
