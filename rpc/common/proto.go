package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/summary"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Key-value store fields
	Bucket  string        `json:"bucket,omitempty"`  // Used for: all kv operations
	Key     []byte        `json:"key,omitempty"`     // Used for: Put, Get, Has, Delete
	Value   []byte        `json:"value,omitempty"`   // Used for: Put (request), Get (response)
	Indexes store.Indexes `json:"indexes,omitempty"` // Used for: Put
	Index   string        `json:"index,omitempty"`   // Used for: IndexRange
	Min     int64         `json:"min,omitempty"`     // Used for: IndexRange
	Max     int64         `json:"max,omitempty"`     // Used for: IndexRange
	Limit   int64         `json:"limit,omitempty"`   // Used for: IndexRange, SampleRecords

	// Dataset fields
	DatasetID []byte            `json:"dataset_id,omitempty"` // Used for: all dataset operations except GenerateID
	UserID    int64             `json:"user_id,omitempty"`    // Used for: Create, Get
	Name      string            `json:"name,omitempty"`       // Used for: Create
	Username  string            `json:"username,omitempty"`   // Used for: Get
	Schema    dataset.Schema    `json:"schema,omitempty"`     // Used for: Create
	Private   bool              `json:"private,omitempty"`    // Used for: Create
	Frozen    bool              `json:"frozen,omitempty"`     // Used for: Create
	Count     int64             `json:"count,omitempty"`      // Used for: GenerateID
	Fraction  float64           `json:"fraction,omitempty"`   // Used for: SampleRecords
	Records   []dataset.Record  `json:"records,omitempty"`    // Used for: PutRecords (request), GetRecords and SampleRecords (response)
	Datasets  []dataset.Dataset `json:"datasets,omitempty"`   // Used for: Get (response)
	Summary   *summary.Summary  `json:"summary,omitempty"`    // Used for: GetSummary (response)

	// Response only fields
	IDs     [][]byte       `json:"ids,omitempty"`      // Keys, record ids or dataset ids; also GetRecords (request)
	Status  manager.Status `json:"status,omitempty"`   // Outcome of a dataset operation
	Msg     string         `json:"msg,omitempty"`      // Human readable detail of Status
	Ok      bool           `json:"ok,omitempty"`       // Used for: Get, Has responses and the Updated flag of Delete
	Err     string         `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
	ErrCode uint64         `json:"err_code,omitempty"` // store.RetCode of a failed kv operation
}

// --------------------------------------------------------------------------
// Message Factory Functions (key-value store)
// --------------------------------------------------------------------------

// setErr copies an error into the response. Store errors keep their return code,
// so that the client can rebuild them.
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	if sErr, ok := err.(*store.Error); ok {
		m.Err = sErr.Msg
		m.ErrCode = uint64(sErr.Code)
		return m
	}
	m.Err = err.Error()
	m.ErrCode = uint64(store.RetCInternalError)
	return m
}

// NewPutRequest creates a new Put request
func NewPutRequest(bucket string, key, value []byte, indexes store.Indexes) *Message {
	return &Message{
		MsgType: MsgTKVPut,
		Bucket:  bucket,
		Key:     key,
		Value:   value,
		Indexes: indexes,
	}
}

// NewPutResponse creates a new Put response
func NewPutResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVPut}).setErr(err)
}

// NewGetRequest creates a new Get request
func NewGetRequest(bucket string, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Bucket:  bucket,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	return (&Message{MsgType: MsgTKVGet, Value: value, Ok: ok}).setErr(err)
}

// NewHasRequest creates a new Has request
func NewHasRequest(bucket string, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVHas,
		Bucket:  bucket,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	return (&Message{MsgType: MsgTKVHas, Ok: ok}).setErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(bucket string, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		Bucket:  bucket,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVDelete}).setErr(err)
}

// NewIndexRangeRequest creates a new IndexRange request
func NewIndexRangeRequest(bucket, index string, min, max int64, limit int) *Message {
	return &Message{
		MsgType: MsgTKVIndexRange,
		Bucket:  bucket,
		Index:   index,
		Min:     min,
		Max:     max,
		Limit:   int64(limit),
	}
}

// NewKeysResponse creates a response carrying keys. It answers IndexRange and Keys requests.
func NewKeysResponse(msgType MessageType, keys [][]byte, err error) *Message {
	return (&Message{MsgType: msgType, IDs: keys}).setErr(err)
}

// NewKeysRequest creates a new Keys request
func NewKeysRequest(bucket string) *Message {
	return &Message{
		MsgType: MsgTKVKeys,
		Bucket:  bucket,
	}
}

// NewDeleteBucketRequest creates a new DeleteBucket request
func NewDeleteBucketRequest(bucket string) *Message {
	return &Message{
		MsgType: MsgTKVDeleteBucket,
		Bucket:  bucket,
	}
}

// NewDeleteBucketResponse creates a new DeleteBucket response
func NewDeleteBucketResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVDeleteBucket}).setErr(err)
}

// --------------------------------------------------------------------------
// Message Factory Functions (datasets)
// --------------------------------------------------------------------------

// statusResponse builds the common part of all dataset responses.
func statusResponse(msgType MessageType, status manager.Status, msg string, err error) *Message {
	m := &Message{MsgType: msgType, Status: status, Msg: msg}
	if err != nil {
		m.Err = err.Error()
	}
	return m
}

// NewCreateDatasetRequest creates a new CreateDataset request
func NewCreateDatasetRequest(req manager.CreateDatasetRequest) *Message {
	return &Message{
		MsgType:   MsgTDSCreate,
		DatasetID: req.ID,
		UserID:    req.UserID,
		Name:      req.Name,
		Schema:    req.Schema,
		Private:   req.Private,
		Frozen:    req.Frozen,
	}
}

// CreateDatasetRequest extracts the request from a CreateDataset message.
func (m *Message) CreateDatasetRequest() manager.CreateDatasetRequest {
	return manager.CreateDatasetRequest{
		ID:      m.DatasetID,
		UserID:  m.UserID,
		Name:    m.Name,
		Schema:  m.Schema,
		Private: m.Private,
		Frozen:  m.Frozen,
	}
}

// NewCreateDatasetResponse creates a new CreateDataset response
func NewCreateDatasetResponse(resp manager.CreateDatasetResponse, err error) *Message {
	m := statusResponse(MsgTDSCreate, resp.Status, resp.Msg, err)
	m.DatasetID = resp.ID
	return m
}

// NewDeleteDatasetRequest creates a new DeleteDataset request
func NewDeleteDatasetRequest(datasetID []byte) *Message {
	return &Message{
		MsgType:   MsgTDSDelete,
		DatasetID: datasetID,
	}
}

// NewDeleteDatasetResponse creates a new DeleteDataset response
func NewDeleteDatasetResponse(resp manager.DeleteDatasetResponse, err error) *Message {
	m := statusResponse(MsgTDSDelete, resp.Status, resp.Msg, err)
	m.Ok = resp.Updated
	return m
}

// NewGetDatasetsRequest creates a new GetDatasets request
func NewGetDatasetsRequest(req manager.GetDatasetsRequest) *Message {
	return &Message{
		MsgType:   MsgTDSGet,
		DatasetID: req.ID,
		UserID:    req.UserID,
		Username:  req.Username,
	}
}

// GetDatasetsRequest extracts the request from a GetDatasets message.
func (m *Message) GetDatasetsRequest() manager.GetDatasetsRequest {
	return manager.GetDatasetsRequest{
		ID:       m.DatasetID,
		UserID:   m.UserID,
		Username: m.Username,
	}
}

// NewGetDatasetsResponse creates a new GetDatasets response
func NewGetDatasetsResponse(resp manager.GetDatasetsResponse, err error) *Message {
	m := statusResponse(MsgTDSGet, resp.Status, resp.Msg, err)
	m.Datasets = resp.Datasets
	return m
}

// NewGenerateIDRequest creates a new GenerateID request
func NewGenerateIDRequest(count int) *Message {
	return &Message{
		MsgType: MsgTDSGenerateID,
		Count:   int64(count),
	}
}

// NewGenerateIDResponse creates a new GenerateID response
func NewGenerateIDResponse(resp manager.GenerateIDResponse, err error) *Message {
	m := statusResponse(MsgTDSGenerateID, resp.Status, resp.Msg, err)
	m.IDs = resp.IDs
	return m
}

// NewPutRecordsRequest creates a new PutRecords request
func NewPutRecordsRequest(datasetID []byte, records []dataset.Record) *Message {
	return &Message{
		MsgType:   MsgTDSPutRecords,
		DatasetID: datasetID,
		Records:   records,
	}
}

// NewPutRecordsResponse creates a new PutRecords response
func NewPutRecordsResponse(resp manager.PutRecordsResponse, err error) *Message {
	m := statusResponse(MsgTDSPutRecords, resp.Status, resp.Msg, err)
	m.IDs = resp.RecordIDs
	return m
}

// NewGetRecordsRequest creates a new GetRecords request
func NewGetRecordsRequest(datasetID []byte, recordIDs [][]byte) *Message {
	return &Message{
		MsgType:   MsgTDSGetRecords,
		DatasetID: datasetID,
		IDs:       recordIDs,
	}
}

// NewSampleRecordsRequest creates a new SampleRecords request
func NewSampleRecordsRequest(datasetID []byte, fraction float64, limit int) *Message {
	return &Message{
		MsgType:   MsgTDSSampleRecords,
		DatasetID: datasetID,
		Fraction:  fraction,
		Limit:     int64(limit),
	}
}

// NewRecordsResponse creates a response carrying records. It answers GetRecords and SampleRecords requests.
func NewRecordsResponse(msgType MessageType, resp manager.GetRecordsResponse, err error) *Message {
	m := statusResponse(msgType, resp.Status, resp.Msg, err)
	m.Records = resp.Records
	return m
}

// NewGetSummaryRequest creates a new GetSummary request
func NewGetSummaryRequest(datasetID []byte) *Message {
	return &Message{
		MsgType:   MsgTDSGetSummary,
		DatasetID: datasetID,
	}
}

// NewGetSummaryResponse creates a new GetSummary response
func NewGetSummaryResponse(resp manager.GetSummaryResponse, err error) *Message {
	m := statusResponse(MsgTDSGetSummary, resp.Status, resp.Msg, err)
	m.Summary = resp.Summary
	return m
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		ErrCode: uint64(store.RetCInternalError),
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTUnknown:         "unknown",
	MsgTSuccess:         "success",
	MsgTError:           "error",
	MsgTKVPut:           "put",
	MsgTKVGet:           "get",
	MsgTKVHas:           "has",
	MsgTKVDelete:        "delete",
	MsgTKVIndexRange:    "indexRange",
	MsgTKVKeys:          "keys",
	MsgTKVDeleteBucket:  "deleteBucket",
	MsgTDSCreate:        "createDataset",
	MsgTDSDelete:        "deleteDataset",
	MsgTDSGet:           "getDatasets",
	MsgTDSGenerateID:    "generateId",
	MsgTDSPutRecords:    "putRecords",
	MsgTDSGetRecords:    "getRecords",
	MsgTDSSampleRecords: "sampleRecords",
	MsgTDSGetSummary:    "getSummary",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range msgTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVPut          // Insert or replace an object
	MsgTKVGet          // Get the value of an object
	MsgTKVHas          // Check if an object exists
	MsgTKVDelete       // Delete an object
	MsgTKVIndexRange   // Query a secondary index
	MsgTKVKeys         // List the keys of a bucket
	MsgTKVDeleteBucket // Delete a whole bucket

	// IDatasetManager operations

	MsgTDSCreate        // Create a dataset
	MsgTDSDelete        // Delete a dataset
	MsgTDSGet           // Query datasets
	MsgTDSGenerateID    // Generate dataset ids
	MsgTDSPutRecords    // Store records
	MsgTDSGetRecords    // Load records by id
	MsgTDSSampleRecords // Load a random sample of records
	MsgTDSGetSummary    // Load the statistics of a dataset
)
