package manager

import (
	"context"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/summary"
)

// --------------------------------------------------------------------------
// Requests and Responses
// --------------------------------------------------------------------------

// CreateDatasetRequest describes a new dataset. If ID is empty, a new id is generated.
type CreateDatasetRequest struct {
	ID      []byte         `json:"id,omitempty"`
	UserID  int64          `json:"user_id"`
	Name    string         `json:"name,omitempty"`
	Schema  dataset.Schema `json:"schema"`
	Private bool           `json:"private"`
	Frozen  bool           `json:"frozen"`
}

type CreateDatasetResponse struct {
	Status Status `json:"status"`
	Msg    string `json:"msg,omitempty"`
	ID     []byte `json:"id,omitempty"`
}

type DeleteDatasetResponse struct {
	Status  Status `json:"status"`
	Msg     string `json:"msg,omitempty"`
	Updated bool   `json:"updated"`
}

// GetDatasetsRequest selects datasets. Exactly one of the fields must be set.
type GetDatasetsRequest struct {
	ID       []byte `json:"id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

type GetDatasetsResponse struct {
	Status   Status            `json:"status"`
	Msg      string            `json:"msg,omitempty"`
	Datasets []dataset.Dataset `json:"datasets"`
}

type GenerateIDResponse struct {
	Status Status   `json:"status"`
	Msg    string   `json:"msg,omitempty"`
	IDs    [][]byte `json:"ids"`
}

type PutRecordsResponse struct {
	Status    Status   `json:"status"`
	Msg       string   `json:"msg,omitempty"`
	RecordIDs [][]byte `json:"record_ids"`
}

type GetRecordsResponse struct {
	Status  Status           `json:"status"`
	Msg     string           `json:"msg,omitempty"`
	Records []dataset.Record `json:"records"`
}

type GetSummaryResponse struct {
	Status  Status           `json:"status"`
	Msg     string           `json:"msg,omitempty"`
	Summary *summary.Summary `json:"summary,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IDatasetManager manages datasets and their records.
//
// Every method reports validation failures and conflicts through the Status of its response.
// A non-nil error means that one of the underlying stores failed; the response is meaningless
// in that case.
type IDatasetManager interface {
	// CreateDataset creates a dataset. Creating a dataset with an existing id and an equal
	// schema succeeds without changing anything.
	CreateDataset(ctx context.Context, req CreateDatasetRequest) (CreateDatasetResponse, error)
	// DeleteDataset deletes a dataset. Updated reports whether a dataset was removed.
	DeleteDataset(ctx context.Context, datasetID []byte) (DeleteDatasetResponse, error)
	// GetDatasets returns the datasets matching the request, ordered by creation time and id.
	GetDatasets(ctx context.Context, req GetDatasetsRequest) (GetDatasetsResponse, error)
	// GenerateID returns count new distinct dataset ids.
	GenerateID(ctx context.Context, count int) (GenerateIDResponse, error)
	// PutRecords stores records of a dataset and returns their ids in input order.
	PutRecords(ctx context.Context, datasetID []byte, records []dataset.Record) (PutRecordsResponse, error)
	// GetRecords returns stored records by id. Missing records are skipped.
	GetRecords(ctx context.Context, datasetID []byte, recordIDs [][]byte) (GetRecordsResponse, error)
	// SampleRecords returns a random sample of about fraction of the records, at most limit if limit > 0.
	SampleRecords(ctx context.Context, datasetID []byte, fraction float64, limit int) (GetRecordsResponse, error)
	// GetSummary returns the running statistics of the records of a dataset.
	GetSummary(ctx context.Context, datasetID []byte) (GetSummaryResponse, error)
}

// IListener is notified about successful changes. Listeners are called synchronously after the
// change has been stored and must not block for long.
type IListener interface {
	// OnRecordsPut is called with the records a call added, their ids set. Records that replaced
	// an existing record and earlier duplicates of an id within the call are left out.
	OnRecordsPut(ctx context.Context, ds dataset.Dataset, records []dataset.Record)
	// OnDatasetDeleted is called after a dataset has been deleted.
	OnDatasetDeleted(ctx context.Context, datasetID []byte)
}
