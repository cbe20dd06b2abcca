package kv

import (
	"github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/rpc/client"
	"github.com/spf13/cobra"
)

// DefaultService is the service id the kv commands address unless --service is set
const DefaultService = 2

var (
	rpcStore store.IStore

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform operations on the key-value store of a server",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the KV command
	util.SetupRPCClientFlags(KeyValueCommands, DefaultService)

	// Add subcommands
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(rangeCmd)
	KeyValueCommands.AddCommand(keysCmd)
	KeyValueCommands.AddCommand(dropCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient initializes the RPC store client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the KV store client
	rpcStore, err = client.NewRPCStore(
		util.GetServiceID(),
		*util.GetClientConfig(),
		t,
		s,
	)

	return err
}
