package datasets

import (
	"github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/ValentinKolb/saltfish/rpc/client"
	"github.com/spf13/cobra"
)

// DefaultService is the service id the dataset commands address unless --service is set
const DefaultService = 1

var (
	datasetClient *client.DatasetClient

	// DatasetCommands represents the dataset command group
	DatasetCommands = &cobra.Command{
		Use:               "datasets",
		Aliases:           []string{"ds"},
		Short:             "Manage datasets and their records",
		PersistentPreRunE: setupDatasetClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the dataset commands
	util.SetupRPCClientFlags(DatasetCommands, DefaultService)

	// Add subcommands
	DatasetCommands.AddCommand(createCmd)
	DatasetCommands.AddCommand(deleteCmd)
	DatasetCommands.AddCommand(getCmd)
	DatasetCommands.AddCommand(generateIDCmd)
	DatasetCommands.AddCommand(putCmd)
	DatasetCommands.AddCommand(recordsCmd)
	DatasetCommands.AddCommand(sampleCmd)
	DatasetCommands.AddCommand(summaryCmd)
	DatasetCommands.AddCommand(perfTestCmd)
}

// setupDatasetClient initializes the RPC dataset client
func setupDatasetClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	datasetClient, err = client.NewDatasetClient(
		util.GetServiceID(),
		*util.GetClientConfig(),
		t,
		s,
	)
	return err
}
