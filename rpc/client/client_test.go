package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/store/lstore"
	storetesting "github.com/ValentinKolb/saltfish/lib/store/testing"
	"github.com/ValentinKolb/saltfish/rpc/client"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/serializer"
	"github.com/ValentinKolb/saltfish/rpc/server"
	"github.com/ValentinKolb/saltfish/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	datasetService = 1
	kvService      = 2
)

var irisSchema = dataset.Schema{
	{Name: "sepal_length", Type: dataset.Numerical},
	{Name: "sepal_width", Type: dataset.Numerical},
	{Name: "species", Type: dataset.Categorical},
}

func freeEndpoint(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startServer starts a server with a dataset and a kv service backed by memory stores
func startServer(t *testing.T, opts ...server.Option) string {
	endpoint := freeEndpoint(t)
	config := common.ServerConfig{
		Services: []common.Service{
			{ServiceID: datasetService, Type: common.ServiceTypeDatasets},
			{ServiceID: kvService, Type: common.ServiceTypeKV},
		},
		Endpoint:        endpoint,
		TimeoutSecond:   5,
		TCPNoDelay:      true,
		MetadataBackend: common.MetadataBackendMemory,
		KVBackend:       common.KVBackendMemory,
		SeedUsers:       []string{"1:alice:alice@example.com", "2:bob"},
	}

	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer(), opts...)
	go func() { _ = s.Serve() }()
	t.Cleanup(func() { _ = s.Close() })

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", endpoint)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return endpoint
}

func clientConfig(endpoint string) common.ClientConfig {
	return common.ClientConfig{
		Endpoints:     []string{endpoint},
		TimeoutSecond: 5,
		RetryCount:    3,
		TCPNoDelay:    true,
	}
}

func newDatasetClient(t *testing.T, endpoint string) *client.DatasetClient {
	c, err := client.NewDatasetClient(datasetService, clientConfig(endpoint), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRPCStore(t *testing.T) {
	storetesting.RunStoreTests(t, "RPCStore", func() (store.IStore, error) {
		endpoint := startServer(t, server.WithKVStore(lstore.NewLocalStore()))
		return client.NewRPCStore(kvService, clientConfig(endpoint), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	})
}

func TestRPCStoreUnknownService(t *testing.T) {
	endpoint := startServer(t)
	kv, err := client.NewRPCStore(42, clientConfig(endpoint), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer kv.Close()

	err = kv.Put(context.Background(), "bucket", []byte("key"), []byte("v"), nil)
	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.RetCInternalError, storeErr.Code)
	assert.Contains(t, storeErr.Msg, "service 42 not found")
}

func TestDatasetClient(t *testing.T) {
	ctx := context.Background()
	c := newDatasetClient(t, startServer(t))

	generated, err := c.GenerateID(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, generated.Status)
	require.Len(t, generated.IDs, 3)
	for _, id := range generated.IDs {
		assert.Len(t, id, dataset.IDLength)
	}

	tooMany, err := c.GenerateID(ctx, 100_001)
	require.NoError(t, err)
	assert.Equal(t, manager.StatusCountTooLarge, tooMany.Status)
	assert.Empty(t, tooMany.IDs)

	created, err := c.CreateDataset(ctx, manager.CreateDatasetRequest{
		ID:     generated.IDs[0],
		UserID: 1,
		Name:   "iris",
		Schema: irisSchema,
	})
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, created.Status, created.Msg)
	require.Equal(t, generated.IDs[0], created.ID)

	duplicate, err := c.CreateDataset(ctx, manager.CreateDatasetRequest{UserID: 1, Name: "iris", Schema: irisSchema})
	require.NoError(t, err)
	assert.Equal(t, manager.StatusDuplicateDatasetName, duplicate.Status)

	unknownUser, err := c.CreateDataset(ctx, manager.CreateDatasetRequest{UserID: 99, Schema: irisSchema})
	require.NoError(t, err)
	assert.Equal(t, manager.StatusInvalidUserID, unknownUser.Status)

	byName, err := c.GetDatasets(ctx, manager.GetDatasetsRequest{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, byName.Status)
	require.Len(t, byName.Datasets, 1)
	ds := byName.Datasets[0]
	assert.Equal(t, created.ID, ds.ID)
	assert.Equal(t, "iris", ds.Name)
	assert.Equal(t, "alice@example.com", ds.Email)
	assert.True(t, irisSchema.Equal(ds.Schema))

	put, err := c.PutRecords(ctx, created.ID, []dataset.Record{
		{Numericals: []float64{5.1, 3.5}, Categoricals: []string{"setosa"}},
		{Numericals: []float64{6.2, 2.9}, Categoricals: []string{"versicolor"}},
	})
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, put.Status, put.Msg)
	require.Len(t, put.RecordIDs, 2)

	invalid, err := c.PutRecords(ctx, created.ID, []dataset.Record{{Numericals: []float64{1}}})
	require.NoError(t, err)
	assert.Equal(t, manager.StatusInvalidRecord, invalid.Status)

	got, err := c.GetRecords(ctx, created.ID, put.RecordIDs)
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, got.Status)
	require.Len(t, got.Records, 2)
	assert.Equal(t, put.RecordIDs[1], got.Records[1].ID)
	assert.Equal(t, []float64{6.2, 2.9}, got.Records[1].Numericals)
	assert.Equal(t, []string{"versicolor"}, got.Records[1].Categoricals)

	sampled, err := c.SampleRecords(ctx, created.ID, 1, 0)
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, sampled.Status)
	assert.Len(t, sampled.Records, 2)

	summary, err := c.GetSummary(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, manager.StatusOK, summary.Status)
	require.NotNil(t, summary.Summary)
	assert.EqualValues(t, 2, summary.Summary.NumRecords)

	deleted, err := c.DeleteDataset(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, manager.StatusOK, deleted.Status)
	assert.True(t, deleted.Updated)

	deleted, err = c.DeleteDataset(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted.Updated)

	missing, err := c.GetDatasets(ctx, manager.GetDatasetsRequest{ID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, manager.StatusOK, missing.Status)
	assert.Empty(t, missing.Datasets)
}

func TestDatasetClientInvalidID(t *testing.T) {
	c := newDatasetClient(t, startServer(t))

	resp, err := c.DeleteDataset(context.Background(), []byte("short"))
	require.NoError(t, err)
	assert.Equal(t, manager.StatusInvalidDatasetID, resp.Status)
	assert.NotEmpty(t, resp.Msg)
}

func TestDatasetClientCanceledContext(t *testing.T) {
	c := newDatasetClient(t, startServer(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GenerateID(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
