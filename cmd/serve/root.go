package serve

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/saltfish/cmd/util"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the saltfish server",
		Long:    `Start the saltfish server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is SALTFISH_<flag> (e.g. SALTFISH_KV_BACKEND=bolt)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "services"
	ServeCmd.PersistentFlags().String(key, "1=datasets,2=kv", cmdUtil.WrapString("Comma-separated list of services to serve. Format: ID=TYPE where TYPE is one of: datasets, kv"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/saltfish.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Upper bound of a single request in seconds (0 = only the deadline of the client applies)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Maximum number of requests handled in parallel per connection (tcp and unix)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus metrics endpoint (e.g. :9090), empty disables it"))

	key = "metadata-backend"
	ServeCmd.PersistentFlags().String(key, common.MetadataBackendMemory, cmdUtil.WrapString("Where users and datasets are stored: memory or mysql"))

	key = "mysql-dsn"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(mysql) Data source name, e.g. user:password@tcp(localhost:3306)/saltfish"))

	key = "mysql-max-open-conns"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(mysql) Maximum number of open connections"))

	key = "mysql-migrate"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(mysql) Create the users and datasets tables if they do not exist"))

	key = "seed-users"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of users written to the metadata store at startup. Format: id:username[:email]"))

	key = "kv-backend"
	ServeCmd.PersistentFlags().String(key, common.KVBackendMemory, cmdUtil.WrapString("Where schemas, records and summaries are stored: memory, bolt or remote"))

	key = "bolt-path"
	ServeCmd.PersistentFlags().String(key, "saltfish.db", cmdUtil.WrapString("(bolt) Path of the database file"))

	key = "bolt-no-sync"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(bolt) Skip fsync after every write, faster but unsafe on power loss"))

	key = "remote-kv-endpoints"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(remote) Comma-separated endpoints of the saltfish node serving the key-value store"))

	key = "remote-kv-service"
	ServeCmd.PersistentFlags().Uint64(key, 2, cmdUtil.WrapString("(remote) Service id of the key-value store on the remote node"))

	key = "remote-kv-transport"
	ServeCmd.PersistentFlags().String(key, "tcp", cmdUtil.WrapString("(remote) Transport used to reach the remote node (http, tcp, unix, grpc)"))

	key = "remote-kv-serializer"
	ServeCmd.PersistentFlags().String(key, "binary", cmdUtil.WrapString("(remote) Serializer used with the remote node (json, gob, binary)"))

	key = "max-generate-count"
	ServeCmd.PersistentFlags().Int(key, 100_000, cmdUtil.WrapString("Largest number of ids a single generate-id request may ask for"))

	key = "write-concurrency"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Parallel key-value writes of a single put-records request"))

	key = "purge-on-delete"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Remove the schema, records and summary of a dataset when it is deleted"))

	key = "max-random-index"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Exclusive upper bound of the random index stored with every record (0 = default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse services
	serveCmdConfig.Services = []common.Service{}
	for _, s := range splitList(viper.GetString("services")) {
		service, err := common.ParseService(s)
		if err != nil {
			return err
		}
		serveCmdConfig.Services = append(serveCmdConfig.Services, service)
	}

	// validate the seed users early, the server parses them again
	serveCmdConfig.SeedUsers = splitList(viper.GetString("seed-users"))
	for _, u := range serveCmdConfig.SeedUsers {
		if _, err := server.ParseUser(u); err != nil {
			return err
		}
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.MetadataBackend = viper.GetString("metadata-backend")
	serveCmdConfig.MySQLDSN = viper.GetString("mysql-dsn")
	serveCmdConfig.MySQLMaxOpenConns = viper.GetInt("mysql-max-open-conns")
	serveCmdConfig.MySQLMigrate = viper.GetBool("mysql-migrate")

	serveCmdConfig.KVBackend = viper.GetString("kv-backend")
	serveCmdConfig.BoltPath = viper.GetString("bolt-path")
	serveCmdConfig.BoltNoSync = viper.GetBool("bolt-no-sync")
	serveCmdConfig.RemoteKVSID = viper.GetUint64("remote-kv-service")
	serveCmdConfig.RemoteKV = common.ClientConfig{
		Endpoints:     splitList(viper.GetString("remote-kv-endpoints")),
		TimeoutSecond: int(serveCmdConfig.TimeoutSecond),
		RetryCount:    3,
		TCPNoDelay:    serveCmdConfig.TCPNoDelay,
	}

	serveCmdConfig.Manager.MaxGenerateIDCount = viper.GetInt("max-generate-count")
	serveCmdConfig.Manager.WriteConcurrency = viper.GetInt("write-concurrency")
	serveCmdConfig.Manager.PurgeOnDelete = viper.GetBool("purge-on-delete")
	serveCmdConfig.Manager.MaxRandomIndex = viper.GetInt64("max-random-index")

	if serveCmdConfig.KVBackend == common.KVBackendRemote && len(serveCmdConfig.RemoteKV.Endpoints) == 0 {
		return errors.New("remote-kv-endpoints is required for the remote kv backend")
	}
	if serveCmdConfig.MetadataBackend == common.MetadataBackendMySQL && serveCmdConfig.MySQLDSN == "" {
		return errors.New("mysql-dsn is required for the mysql metadata backend")
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the saltfish server and stops it on SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.ServerTransportByName(viper.GetString("transport"))
	if err != nil {
		return err
	}

	var opts []server.Option
	if serveCmdConfig.KVBackend == common.KVBackendRemote {
		remoteTransport, err := cmdUtil.ClientTransportByName(viper.GetString("remote-kv-transport"))
		if err != nil {
			return err
		}
		remoteSerializer, err := cmdUtil.SerializerByName(viper.GetString("remote-kv-serializer"))
		if err != nil {
			return err
		}
		opts = append(opts, server.WithRemoteKVTransport(remoteTransport, remoteSerializer))
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- serv.Serve() }()

	select {
	case err := <-done:
		_ = serv.Close()
		return err
	case <-ctx.Done():
		server.Logger.Infof("Shutting down")
		if err := serv.Close(); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return <-done
	}
}

// splitList splits a comma-separated list and drops empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
