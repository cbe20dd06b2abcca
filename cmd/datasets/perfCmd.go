package datasets

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the dataset service",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfUserID     int64 = 1
	perfBatchSize        = 100
	perfNumThreads       = 10
	perfSkip             = make([]string, 0)

	perfSchema = dataset.Schema{
		{Name: "x", Type: dataset.Numerical},
		{Name: "y", Type: dataset.Numerical},
		{Name: "label", Type: dataset.Categorical},
	}
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put-records,sample)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "user"
	perfTestCmd.Flags().Int64(key, 1, util.WrapString("ID of an existing user owning the test datasets"))
	key = "batch-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("Number of records per put-records call"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfUserID = viper.GetInt64("user")
	perfBatchSize = max(viper.GetInt("batch-size"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for the saltfish dataset service")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Batch size: %d\n", perfBatchSize)
	fmt.Println()

	fmt.Println("starting tests...")

	batch := perfRecords(perfBatchSize)

	// the dataset of the currently running benchmark, set by its setup
	var current []byte
	var recordIDs [][]byte

	benchmarks := []util.Benchmark{
		{
			Name:  "generate-id",
			Setup: nil,
			Op: func(int) error {
				return perfStatus(datasetClient.GenerateID(ctx, 1))
			},
		},
		{
			Name:  "create-dataset",
			Setup: nil,
			Op: func(int) error {
				resp, err := datasetClient.CreateDataset(ctx, manager.CreateDatasetRequest{
					UserID: perfUserID,
					Name:   "__perf-" + uuid.NewString(),
					Schema: perfSchema,
				})
				if err != nil {
					return err
				}
				if resp.Status != manager.StatusOK {
					return fmt.Errorf("%s: %s", resp.Status, resp.Msg)
				}
				return perfStatus(datasetClient.DeleteDataset(ctx, resp.ID))
			},
		},
		{
			Name:  "get-datasets",
			Setup: withDataset(ctx, &current, nil),
			Op: func(int) error {
				return perfStatus(datasetClient.GetDatasets(ctx, manager.GetDatasetsRequest{ID: current}))
			},
		},
		{
			Name:  "put-records",
			Setup: withDataset(ctx, &current, nil),
			Op: func(int) error {
				return perfStatus(datasetClient.PutRecords(ctx, current, batch))
			},
		},
		{
			Name:  "get-records",
			Setup: withDataset(ctx, &current, &recordIDs),
			Op: func(i int) error {
				return perfStatus(datasetClient.GetRecords(ctx, current, [][]byte{recordIDs[i%len(recordIDs)]}))
			},
		},
		{
			Name:  "sample",
			Setup: withDataset(ctx, &current, &recordIDs),
			Op: func(int) error {
				return perfStatus(datasetClient.SampleRecords(ctx, current, 0.1, 10))
			},
		},
		{
			Name:  "summary",
			Setup: withDataset(ctx, &current, &recordIDs),
			Op: func(int) error {
				return perfStatus(datasetClient.GetSummary(ctx, current))
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

// statusResponse is implemented by all responses of the dataset service
type statusResponse interface {
	manager.CreateDatasetResponse | manager.DeleteDatasetResponse | manager.GetDatasetsResponse |
		manager.GenerateIDResponse | manager.PutRecordsResponse | manager.GetRecordsResponse |
		manager.GetSummaryResponse
}

// perfStatus counts a response with a status other than OK as error
func perfStatus[T statusResponse](resp T, err error) error {
	if err != nil {
		return err
	}
	var status manager.Status
	var msg string
	switch r := any(resp).(type) {
	case manager.CreateDatasetResponse:
		status, msg = r.Status, r.Msg
	case manager.DeleteDatasetResponse:
		status, msg = r.Status, r.Msg
	case manager.GetDatasetsResponse:
		status, msg = r.Status, r.Msg
	case manager.GenerateIDResponse:
		status, msg = r.Status, r.Msg
	case manager.PutRecordsResponse:
		status, msg = r.Status, r.Msg
	case manager.GetRecordsResponse:
		status, msg = r.Status, r.Msg
	case manager.GetSummaryResponse:
		status, msg = r.Status, r.Msg
	}
	return checkStatus(status, msg)
}

// perfRecords builds n records matching perfSchema
func perfRecords(n int) []dataset.Record {
	recs := make([]dataset.Record, n)
	for i := range recs {
		recs[i] = dataset.Record{
			Numericals:   []float64{float64(i), float64(i) / 2},
			Categoricals: []string{fmt.Sprintf("class-%d", i%5)},
		}
	}
	return recs
}

// withDataset returns a setup that creates a test dataset before and deletes it after the
// measurement. If recordIDs is set, one batch of records is stored and their ids are kept.
func withDataset(ctx context.Context, current *[]byte, recordIDs *[][]byte) func() func() {
	return func() func() {
		resp, err := datasetClient.CreateDataset(ctx, manager.CreateDatasetRequest{
			UserID: perfUserID,
			Name:   "__perf-" + uuid.NewString(),
			Schema: perfSchema,
		})
		if err == nil {
			err = checkStatus(resp.Status, resp.Msg)
		}
		if err != nil {
			log.Fatalf("error creating test dataset: %v\n", err)
		}
		*current = resp.ID

		if recordIDs != nil {
			put, err := datasetClient.PutRecords(ctx, resp.ID, perfRecords(perfBatchSize))
			if err == nil {
				err = checkStatus(put.Status, put.Msg)
			}
			if err != nil {
				log.Fatalf("error storing test records: %v\n", err)
			}
			*recordIDs = put.RecordIDs
		}

		return func() {
			if err := perfStatus(datasetClient.DeleteDataset(ctx, resp.ID)); err != nil {
				log.Printf("error deleting test dataset: %v\n", err)
			}
		}
	}
}
