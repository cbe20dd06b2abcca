package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/saltfish/cmd/datasets"
	"github.com/ValentinKolb/saltfish/cmd/kv"
	"github.com/ValentinKolb/saltfish/cmd/serve"
	"github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "saltfish",
		Short: "dataset metadata and record storage",
		Long: fmt.Sprintf(`saltfish (v%s)

A storage service for tabular datasets written in Go. Dataset metadata lives
in a relational store, schemas, records and summaries in a key-value store.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of saltfish",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("saltfish v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(datasets.DatasetCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix, grpc)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
