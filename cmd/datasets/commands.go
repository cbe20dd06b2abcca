package datasets

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/spf13/cobra"
)

var (
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Creates a dataset",
		Example: `  saltfish datasets create --user 1 --name iris \
    --schema "sepal_length:numerical,sepal_width:numerical,species:categorical"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			userID, _ := flags.GetInt64("user")
			name, _ := flags.GetString("name")
			rawSchema, _ := flags.GetString("schema")
			rawID, _ := flags.GetString("id")
			private, _ := flags.GetBool("private")
			frozen, _ := flags.GetBool("frozen")

			schema, err := parseSchema(rawSchema)
			if err != nil {
				return err
			}
			req := manager.CreateDatasetRequest{UserID: userID, Name: name, Schema: schema, Private: private, Frozen: frozen}
			if rawID != "" {
				if req.ID, err = dataset.DecodeID(rawID); err != nil {
					return err
				}
			}

			resp, err := datasetClient.CreateDataset(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			fmt.Printf("created dataset %s\n", dataset.EncodeID(resp.ID))
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [dataset-id]",
		Short: "Deletes a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dataset.DecodeID(args[0])
			if err != nil {
				return err
			}
			resp, err := datasetClient.DeleteDataset(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			fmt.Printf("id=%s, deleted=%t\n", args[0], resp.Updated)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get",
		Short: "Lists datasets by id, owner id or owner name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			rawID, _ := flags.GetString("id")
			userID, _ := flags.GetInt64("user")
			username, _ := flags.GetString("username")
			asJSON, _ := flags.GetBool("json")

			req := manager.GetDatasetsRequest{UserID: userID, Username: username}
			if rawID != "" {
				var err error
				if req.ID, err = dataset.DecodeID(rawID); err != nil {
					return err
				}
			}

			resp, err := datasetClient.GetDatasets(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			if asJSON {
				return util.PrintJSON(resp.Datasets)
			}
			printDatasets(resp.Datasets)
			return nil
		},
	}
	generateIDCmd = &cobra.Command{
		Use:   "generate-id [count]",
		Short: "Generates new dataset ids",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				var err error
				if count, err = strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("count must be a number: %w", err)
				}
			}
			resp, err := datasetClient.GenerateID(cmd.Context(), count)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			for _, id := range resp.IDs {
				fmt.Println(dataset.EncodeID(id))
			}
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [dataset-id] [file]",
		Short: "Stores records read from a JSON or CSV file (- reads JSON from stdin)",
		Long: util.WrapString(`Stores records of a dataset. JSON input is an array of objects with the fields
"numericals" and "categoricals", null numericals are missing values. CSV input has one column
per feature in schema order, empty cells are missing values. Files ending in .csv are read as CSV.`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dataset.DecodeID(args[0])
			if err != nil {
				return err
			}
			header, _ := cmd.Flags().GetBool("header")

			var in io.Reader = os.Stdin
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var recs []dataset.Record
			if strings.EqualFold(filepath.Ext(args[1]), ".csv") {
				ds, err := lookup(cmd, id)
				if err != nil {
					return err
				}
				recs, err = readCSVRecords(in, ds.Schema, header)
				if err != nil {
					return err
				}
			} else if recs, err = readJSONRecords(in); err != nil {
				return err
			}

			resp, err := datasetClient.PutRecords(cmd.Context(), id, recs)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			for _, rid := range resp.RecordIDs {
				fmt.Println(formatRecordID(rid))
			}
			fmt.Printf("(%d records stored)\n", len(resp.RecordIDs))
			return nil
		},
	}
	recordsCmd = &cobra.Command{
		Use:   "records [dataset-id] [record-id...]",
		Short: "Reads records by id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dataset.DecodeID(args[0])
			if err != nil {
				return err
			}
			recordIDs := make([][]byte, 0, len(args)-1)
			for _, a := range args[1:] {
				rid, err := parseRecordID(a)
				if err != nil {
					return err
				}
				recordIDs = append(recordIDs, rid)
			}

			resp, err := datasetClient.GetRecords(cmd.Context(), id, recordIDs)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			printRecords(resp.Records)
			return nil
		},
	}
	sampleCmd = &cobra.Command{
		Use:   "sample [dataset-id]",
		Short: "Reads a random sample of the records of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dataset.DecodeID(args[0])
			if err != nil {
				return err
			}
			fraction, _ := cmd.Flags().GetFloat64("fraction")
			limit, _ := cmd.Flags().GetInt("limit")

			resp, err := datasetClient.SampleRecords(cmd.Context(), id, fraction, limit)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}
			printRecords(resp.Records)
			return nil
		},
	}
	summaryCmd = &cobra.Command{
		Use:   "summary [dataset-id]",
		Short: "Prints the statistics of the records of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dataset.DecodeID(args[0])
			if err != nil {
				return err
			}
			resp, err := datasetClient.GetSummary(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := checkStatus(resp.Status, resp.Msg); err != nil {
				return err
			}

			s := resp.Summary
			if s == nil {
				return fmt.Errorf("no summary for dataset %s", args[0])
			}
			fmt.Printf("dataset %s, %d records\n", dataset.EncodeID(s.DatasetID), s.NumRecords)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEATURE\tTYPE\tVALUES\tMISSING\tMEAN\tMIN\tMAX\tDISTINCT")
			for _, f := range s.Features {
				if f.Type == dataset.Numerical {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t-\n", f.Name, f.Type, f.NumValues, f.NumMissing,
						formatFloat(f.Mean, f.NumValues), formatFloat(f.Min, f.NumValues), formatFloat(f.Max, f.NumValues))
				} else {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t-\t-\t-\t%d\n", f.Name, f.Type, f.NumValues, f.NumMissing, len(f.Histogram))
				}
			}
			return w.Flush()
		},
	}
)

func init() {
	createCmd.Flags().Int64("user", 0, "ID of the owner")
	createCmd.Flags().String("name", "", "Name of the dataset, unique per owner")
	createCmd.Flags().String("schema", "", util.WrapString("Features as name:type pairs, type is numerical or categorical"))
	createCmd.Flags().String("id", "", "Id of the dataset (base64url), generated if empty")
	createCmd.Flags().Bool("private", false, "Mark the dataset as private")
	createCmd.Flags().Bool("frozen", false, "Mark the dataset as frozen")
	_ = createCmd.MarkFlagRequired("user")
	_ = createCmd.MarkFlagRequired("schema")

	getCmd.Flags().String("id", "", "Id of the dataset (base64url)")
	getCmd.Flags().Int64("user", 0, "ID of the owner")
	getCmd.Flags().String("username", "", "Name of the owner")
	getCmd.Flags().Bool("json", false, "Print the datasets as JSON")
	getCmd.MarkFlagsOneRequired("id", "user", "username")
	getCmd.MarkFlagsMutuallyExclusive("id", "user", "username")

	putCmd.Flags().Bool("header", false, "Skip the first row of CSV input")

	sampleCmd.Flags().Float64("fraction", 0.1, "Expected share of the records in the sample, in (0, 1]")
	sampleCmd.Flags().Int("limit", 0, "Maximum number of records, 0 is unlimited")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// checkStatus turns a status other than OK into an error
func checkStatus(status manager.Status, msg string) error {
	if status == manager.StatusOK {
		return nil
	}
	if msg == "" {
		return fmt.Errorf("%s", status)
	}
	return fmt.Errorf("%s: %s", status, msg)
}

// lookup fetches a single dataset
func lookup(cmd *cobra.Command, id []byte) (dataset.Dataset, error) {
	resp, err := datasetClient.GetDatasets(cmd.Context(), manager.GetDatasetsRequest{ID: id})
	if err != nil {
		return dataset.Dataset{}, err
	}
	if err := checkStatus(resp.Status, resp.Msg); err != nil {
		return dataset.Dataset{}, err
	}
	if len(resp.Datasets) == 0 {
		return dataset.Dataset{}, fmt.Errorf("dataset %s not found", dataset.EncodeID(id))
	}
	return resp.Datasets[0], nil
}

func printDatasets(datasets []dataset.Dataset) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tFEATURES\tPRIVATE\tFROZEN\tCREATED")
	for _, ds := range datasets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%t\t%s\n", dataset.EncodeID(ds.ID), ds.Name, ds.Username,
			len(ds.Schema), ds.Private, ds.Frozen, ds.Created.Format(time.RFC3339))
	}
	_ = w.Flush()
	fmt.Printf("(%d datasets)\n", len(datasets))
}

func printRecords(recs []dataset.Record) {
	for _, r := range recs {
		values := make([]string, 0, len(r.Numericals)+len(r.Categoricals))
		for _, v := range r.Numericals {
			values = append(values, formatFloat(v, 1))
		}
		for _, v := range r.Categoricals {
			values = append(values, strconv.Quote(v))
		}
		fmt.Printf("%s\t%s\n", formatRecordID(r.ID), strings.Join(values, ", "))
	}
	fmt.Printf("(%d records)\n", len(recs))
}

// formatFloat prints missing values and statistics without values as "-"
func formatFloat(v float64, n uint64) string {
	if n == 0 || math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
