package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/rpc/common"
)

// NewDatasetServerAdapter creates an adapter that serves the operations of a dataset manager
func NewDatasetServerAdapter(mgr manager.IDatasetManager) IRPCServerAdapter {
	return &datasetServerAdapter{mgr: mgr}
}

type datasetServerAdapter struct {
	mgr manager.IDatasetManager
}

func (adapter *datasetServerAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	if adapter.mgr == nil {
		return common.NewErrorResponse("handler: dataset manager is nil")
	}

	mgr := adapter.mgr

	switch req.MsgType {
	case common.MsgTDSCreate:
		resp, err := mgr.CreateDataset(ctx, req.CreateDatasetRequest())
		return common.NewCreateDatasetResponse(resp, err)
	case common.MsgTDSDelete:
		resp, err := mgr.DeleteDataset(ctx, req.DatasetID)
		return common.NewDeleteDatasetResponse(resp, err)
	case common.MsgTDSGet:
		resp, err := mgr.GetDatasets(ctx, req.GetDatasetsRequest())
		return common.NewGetDatasetsResponse(resp, err)
	case common.MsgTDSGenerateID:
		resp, err := mgr.GenerateID(ctx, int(req.Count))
		return common.NewGenerateIDResponse(resp, err)
	case common.MsgTDSPutRecords:
		resp, err := mgr.PutRecords(ctx, req.DatasetID, req.Records)
		return common.NewPutRecordsResponse(resp, err)
	case common.MsgTDSGetRecords:
		resp, err := mgr.GetRecords(ctx, req.DatasetID, req.IDs)
		return common.NewRecordsResponse(common.MsgTDSGetRecords, resp, err)
	case common.MsgTDSSampleRecords:
		resp, err := mgr.SampleRecords(ctx, req.DatasetID, req.Fraction, int(req.Limit))
		return common.NewRecordsResponse(common.MsgTDSSampleRecords, resp, err)
	case common.MsgTDSGetSummary:
		resp, err := mgr.GetSummary(ctx, req.DatasetID)
		return common.NewGetSummaryResponse(resp, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC DatasetAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
