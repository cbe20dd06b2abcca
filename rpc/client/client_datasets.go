package client

import (
	"context"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/ValentinKolb/saltfish/rpc/serializer"
	"github.com/ValentinKolb/saltfish/rpc/transport"
)

// NewDatasetClient creates a client for a remote dataset manager
// The function takes a service ID, a client config, a transport and a serializer as parameters
func NewDatasetClient(
	serviceID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*DatasetClient, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &DatasetClient{
		rpcClientAdapter: rpcClientAdapter{
			serviceID:  serviceID,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

var _ manager.IDatasetManager = (*DatasetClient)(nil)

// DatasetClient implements manager.IDatasetManager by forwarding all calls to a server
type DatasetClient struct {
	rpcClientAdapter
}

// Close closes the underlying transport
func (c *DatasetClient) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see manager/interface.go)
// --------------------------------------------------------------------------

func (c *DatasetClient) CreateDataset(ctx context.Context, req manager.CreateDatasetRequest) (manager.CreateDatasetResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewCreateDatasetRequest(req))
	if err != nil {
		return manager.CreateDatasetResponse{}, err
	}
	return manager.CreateDatasetResponse{Status: resp.Status, Msg: resp.Msg, ID: resp.DatasetID}, nil
}

func (c *DatasetClient) DeleteDataset(ctx context.Context, datasetID []byte) (manager.DeleteDatasetResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewDeleteDatasetRequest(datasetID))
	if err != nil {
		return manager.DeleteDatasetResponse{}, err
	}
	return manager.DeleteDatasetResponse{Status: resp.Status, Msg: resp.Msg, Updated: resp.Ok}, nil
}

func (c *DatasetClient) GetDatasets(ctx context.Context, req manager.GetDatasetsRequest) (manager.GetDatasetsResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewGetDatasetsRequest(req))
	if err != nil {
		return manager.GetDatasetsResponse{}, err
	}
	return manager.GetDatasetsResponse{Status: resp.Status, Msg: resp.Msg, Datasets: resp.Datasets}, nil
}

func (c *DatasetClient) GenerateID(ctx context.Context, count int) (manager.GenerateIDResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewGenerateIDRequest(count))
	if err != nil {
		return manager.GenerateIDResponse{}, err
	}
	return manager.GenerateIDResponse{Status: resp.Status, Msg: resp.Msg, IDs: resp.IDs}, nil
}

func (c *DatasetClient) PutRecords(ctx context.Context, datasetID []byte, records []dataset.Record) (manager.PutRecordsResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewPutRecordsRequest(datasetID, records))
	if err != nil {
		return manager.PutRecordsResponse{}, err
	}
	return manager.PutRecordsResponse{Status: resp.Status, Msg: resp.Msg, RecordIDs: resp.IDs}, nil
}

func (c *DatasetClient) GetRecords(ctx context.Context, datasetID []byte, recordIDs [][]byte) (manager.GetRecordsResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewGetRecordsRequest(datasetID, recordIDs))
	if err != nil {
		return manager.GetRecordsResponse{}, err
	}
	return manager.GetRecordsResponse{Status: resp.Status, Msg: resp.Msg, Records: resp.Records}, nil
}

func (c *DatasetClient) SampleRecords(ctx context.Context, datasetID []byte, fraction float64, limit int) (manager.GetRecordsResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewSampleRecordsRequest(datasetID, fraction, limit))
	if err != nil {
		return manager.GetRecordsResponse{}, err
	}
	return manager.GetRecordsResponse{Status: resp.Status, Msg: resp.Msg, Records: resp.Records}, nil
}

func (c *DatasetClient) GetSummary(ctx context.Context, datasetID []byte) (manager.GetSummaryResponse, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewGetSummaryRequest(datasetID))
	if err != nil {
		return manager.GetSummaryResponse{}, err
	}
	return manager.GetSummaryResponse{Status: resp.Status, Msg: resp.Msg, Summary: resp.Summary}, nil
}
