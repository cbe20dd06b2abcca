package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/saltfish/lib/manager"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServiceType string

const (
	// ServiceTypeDatasets exposes the dataset manager
	ServiceTypeDatasets ServiceType = "datasets"
	// ServiceTypeKV exposes the key-value store the node is configured with
	ServiceTypeKV ServiceType = "kv"
)

// Service is one addressable endpoint of a server. Requests carry the service id,
// so that several services can share one transport.
type Service struct {
	// ServiceID is the id clients use to address the service
	ServiceID uint64
	// Type selects what the service exposes
	Type ServiceType
}

const (
	MetadataBackendMemory = "memory"
	MetadataBackendMySQL  = "mysql"

	KVBackendMemory = "memory"
	KVBackendBolt   = "bolt"
	KVBackendRemote = "remote"
)

// ServerConfig holds all configuration parameters of a server node.
type ServerConfig struct {
	// Services served by this node
	Services []Service

	// RPC settings
	Endpoint       string
	TimeoutSecond  int64
	WorkersPerConn int
	TCPNoDelay     bool

	// MetricsEndpoint is the listen address of the prometheus endpoint, empty disables it
	MetricsEndpoint string

	// Metadata backend ("memory" or "mysql")
	MetadataBackend   string
	MySQLDSN          string
	MySQLMaxOpenConns int
	MySQLMigrate      bool
	// SeedUsers are written to the metadata store at startup, format "id:username[:email]"
	SeedUsers []string

	// Key-value backend ("memory", "bolt" or "remote")
	KVBackend   string
	BoltPath    string
	BoltNoSync  bool
	RemoteKV    ClientConfig
	RemoteKVSID uint64

	// Dataset manager settings
	Manager manager.Config

	// Logging configuration
	LogLevel string
}

// HasService checks if the configuration contains a service of the given type
func (c *ServerConfig) HasService(t ServiceType) bool {
	for _, s := range c.Services {
		if s.Type == t {
			return true
		}
	}
	return false
}

// ParseService parses the "<id>=<type>" notation used on the command line.
func ParseService(s string) (Service, error) {
	idStr, typeStr, ok := strings.Cut(s, "=")
	if !ok {
		return Service{}, fmt.Errorf("invalid service %q, expected <id>=<type>", s)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
	if err != nil {
		return Service{}, fmt.Errorf("invalid service id in %q: %w", s, err)
	}
	switch t := ServiceType(strings.TrimSpace(typeStr)); t {
	case ServiceTypeDatasets, ServiceTypeKV:
		return Service{ServiceID: id, Type: t}, nil
	default:
		return Service{}, fmt.Errorf("invalid service type %q, must be one of %s, %s", t, ServiceTypeDatasets, ServiceTypeKV)
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.WorkersPerConn))
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Services
	addSection("Services")
	for _, s := range c.Services {
		addField(strconv.FormatUint(s.ServiceID, 10), string(s.Type))
	}

	if c.HasService(ServiceTypeDatasets) {
		addSection("Metadata")
		addField("Backend", c.MetadataBackend)
		if c.MetadataBackend == MetadataBackendMySQL {
			addField("DSN", redactDSN(c.MySQLDSN))
			addField("Max Open Conns", strconv.Itoa(c.MySQLMaxOpenConns))
			addField("Migrate", strconv.FormatBool(c.MySQLMigrate))
		}
		addField("Seed Users", strconv.Itoa(len(c.SeedUsers)))

		addSection("Dataset Manager")
		addField("Max Generate Count", strconv.Itoa(c.Manager.MaxGenerateIDCount))
		addField("Write Concurrency", strconv.Itoa(c.Manager.WriteConcurrency))
		addField("Purge On Delete", strconv.FormatBool(c.Manager.PurgeOnDelete))
	}

	addSection("Key-Value Store")
	addField("Backend", c.KVBackend)
	switch c.KVBackend {
	case KVBackendBolt:
		addField("Path", c.BoltPath)
		addField("No Sync", strconv.FormatBool(c.BoltNoSync))
	case KVBackendRemote:
		addField("Service", strconv.FormatUint(c.RemoteKVSID, 10))
		addField("Endpoints", strings.Join(c.RemoteKV.Endpoints, ", "))
	}

	return sb.String()
}

// redactDSN hides the password of a go-sql-driver DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	colon := strings.Index(dsn, ":")
	if at < 0 || colon < 0 || colon > at {
		return dsn
	}
	return dsn[:colon+1] + "***" + dsn[at:]
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	TCPNoDelay             bool
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
