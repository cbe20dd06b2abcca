package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/ids"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	"github.com/ValentinKolb/saltfish/lib/records"
	"github.com/ValentinKolb/saltfish/lib/schemacache"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/summary"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("manager")

// Config configures a Manager. Zero values select the defaults of the respective packages.
type Config struct {
	// MaxGenerateIDCount is the largest count accepted by GenerateID
	MaxGenerateIDCount int
	// SchemasBucket is the bucket of the schema cache
	SchemasBucket string
	// RecordsBucketPrefix is the prefix of the per dataset record buckets
	RecordsBucketPrefix string
	// SummariesBucket is the bucket the record summaries are persisted in
	SummariesBucket string
	// MaxRandomIndex is the exclusive upper bound of the random index of records
	MaxRandomIndex int64
	// WriteConcurrency limits the parallel record writes of one PutRecords call
	WriteConcurrency int
	// PurgeOnDelete removes the cached schema, the records and the summary of deleted datasets
	PurgeOnDelete bool
}

var _ IDatasetManager = (*Manager)(nil)

// Manager implements IDatasetManager on top of a metadata store and a key-value store.
type Manager struct {
	meta       metadata.IStore
	ids        *ids.Generator
	schemas    *schemacache.Cache
	records    *records.Store
	summarizer *summary.Summarizer
	listeners  []IListener
	config     Config

	// now returns the creation time of new datasets
	now func() time.Time
}

// NewManager creates a dataset manager. The record summarizer is registered as the first listener.
func NewManager(meta metadata.IStore, kv store.IStore, config Config) *Manager {
	gen := ids.NewGenerator(config.MaxGenerateIDCount)
	schemas := schemacache.New(kv, config.SchemasBucket)
	m := &Manager{
		meta:    meta,
		ids:     gen,
		schemas: schemas,
		records: records.New(kv, gen, records.Config{
			BucketPrefix:     config.RecordsBucketPrefix,
			MaxRandomIndex:   config.MaxRandomIndex,
			WriteConcurrency: config.WriteConcurrency,
		}),
		summarizer: summary.NewSummarizer(kv, schemas, config.SummariesBucket),
		config:     config,
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	m.listeners = append(m.listeners, m.summarizer)
	return m
}

// AddListener registers a listener for successful changes.
func (m *Manager) AddListener(l IListener) {
	m.listeners = append(m.listeners, l)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see manager/interface.go)
// --------------------------------------------------------------------------

func (m *Manager) CreateDataset(ctx context.Context, req CreateDatasetRequest) (CreateDatasetResponse, error) {
	if len(req.ID) != 0 && len(req.ID) != dataset.IDLength {
		return CreateDatasetResponse{
			Status: StatusInvalidDatasetID,
			Msg:    fmt.Sprintf("dataset id must have %d bytes, got %d", dataset.IDLength, len(req.ID)),
		}, nil
	}

	if _, ok, err := m.meta.GetUser(ctx, req.UserID); err != nil {
		return CreateDatasetResponse{}, err
	} else if !ok {
		return CreateDatasetResponse{
			Status: StatusInvalidUserID,
			Msg:    fmt.Sprintf("no user with id %d", req.UserID),
		}, nil
	}

	if err := req.Schema.Validate(); err != nil {
		status := StatusInvalidFeatureType
		if errors.Is(err, dataset.ErrDuplicateFeatureName) {
			status = StatusDuplicateFeatureName
		}
		return CreateDatasetResponse{Status: status, Msg: err.Error()}, nil
	}

	if taken, err := m.meta.NameTaken(ctx, req.UserID, req.Name, req.ID); err != nil {
		return CreateDatasetResponse{}, err
	} else if taken {
		return duplicateName(req), nil
	}

	if len(req.ID) != 0 {
		if resp, done, err := m.existing(ctx, req); err != nil || done {
			return resp, err
		}
	}

	id := req.ID
	if len(id) == 0 {
		var err error
		if id, err = m.ids.DatasetID(); err != nil {
			return CreateDatasetResponse{}, err
		}
	}

	ds := dataset.Dataset{
		ID:      id,
		UserID:  req.UserID,
		Name:    req.Name,
		Schema:  req.Schema,
		Private: req.Private,
		Frozen:  req.Frozen,
		Created: m.now(),
	}

	err := m.meta.CreateDataset(ctx, ds, m.publish)
	switch {
	case err == nil:
		Logger.Infof("created %s", ds)
		return CreateDatasetResponse{Status: StatusOK, ID: id}, nil
	case errors.Is(err, metadata.ErrDatasetExists):
		// a concurrent creator won, decide like a retry would
		resp, done, err := m.existing(ctx, CreateDatasetRequest{ID: id, Schema: req.Schema})
		if err != nil || done {
			return resp, err
		}
		return idExists(id), nil
	case errors.Is(err, metadata.ErrDuplicateName):
		return duplicateName(req), nil
	case errors.Is(err, metadata.ErrInvalidUser):
		return CreateDatasetResponse{
			Status: StatusInvalidUserID,
			Msg:    fmt.Sprintf("no user with id %d", req.UserID),
		}, nil
	default:
		return CreateDatasetResponse{}, errors.Wrapf(err, "create dataset %s", dataset.EncodeID(id))
	}
}

func (m *Manager) DeleteDataset(ctx context.Context, datasetID []byte) (DeleteDatasetResponse, error) {
	if len(datasetID) != dataset.IDLength {
		return DeleteDatasetResponse{Status: StatusInvalidDatasetID, Msg: invalidIDMsg(datasetID)}, nil
	}

	deleted, err := m.meta.DeleteDataset(ctx, datasetID)
	if err != nil {
		return DeleteDatasetResponse{}, err
	}
	if !deleted {
		return DeleteDatasetResponse{Status: StatusOK, Updated: false}, nil
	}

	Logger.Infof("deleted dataset %s", dataset.EncodeID(datasetID))
	for _, l := range m.listeners {
		l.OnDatasetDeleted(ctx, datasetID)
	}
	if m.config.PurgeOnDelete {
		m.purge(ctx, datasetID)
	}
	return DeleteDatasetResponse{Status: StatusOK, Updated: true}, nil
}

func (m *Manager) GetDatasets(ctx context.Context, req GetDatasetsRequest) (GetDatasetsResponse, error) {
	selectors := 0
	if len(req.ID) != 0 {
		selectors++
	}
	if req.UserID != 0 {
		selectors++
	}
	if req.Username != "" {
		selectors++
	}
	if selectors != 1 {
		return GetDatasetsResponse{
			Status: StatusInvalidRequest,
			Msg:    "exactly one of dataset id, user id and username must be set",
		}, nil
	}

	var (
		datasets []dataset.Dataset
		err      error
	)
	switch {
	case len(req.ID) != 0:
		if len(req.ID) != dataset.IDLength {
			return GetDatasetsResponse{Status: StatusInvalidRequest, Msg: invalidIDMsg(req.ID)}, nil
		}
		var (
			ds dataset.Dataset
			ok bool
		)
		ds, ok, err = m.meta.GetDataset(ctx, req.ID)
		if ok {
			datasets = []dataset.Dataset{ds}
		}
	case req.UserID != 0:
		datasets, err = m.meta.ListByUser(ctx, req.UserID)
	default:
		datasets, err = m.meta.ListByUsername(ctx, req.Username)
	}
	if err != nil {
		return GetDatasetsResponse{}, err
	}
	if datasets == nil {
		datasets = []dataset.Dataset{}
	}
	return GetDatasetsResponse{Status: StatusOK, Datasets: datasets}, nil
}

func (m *Manager) GenerateID(_ context.Context, count int) (GenerateIDResponse, error) {
	if count < 0 {
		return GenerateIDResponse{Status: StatusInvalidRequest, Msg: "count must not be negative", IDs: [][]byte{}}, nil
	}

	generated, err := m.ids.DatasetIDs(count)
	var tooLarge *ids.CountTooLargeError
	if errors.As(err, &tooLarge) {
		return GenerateIDResponse{Status: StatusCountTooLarge, Msg: tooLarge.Error(), IDs: [][]byte{}}, nil
	}
	if err != nil {
		return GenerateIDResponse{}, err
	}
	return GenerateIDResponse{Status: StatusOK, IDs: generated}, nil
}

func (m *Manager) PutRecords(ctx context.Context, datasetID []byte, recs []dataset.Record) (PutRecordsResponse, error) {
	ds, resp, err := m.dataset(ctx, datasetID)
	if err != nil || resp != nil {
		return PutRecordsResponse{Status: resp.status(), Msg: resp.msg()}, err
	}

	for i, r := range recs {
		if err := ds.Schema.Check(r); err != nil {
			return PutRecordsResponse{
				Status: StatusInvalidRecord,
				Msg:    fmt.Sprintf("record %d: %v", i, err),
			}, nil
		}
	}
	if len(recs) == 0 {
		return PutRecordsResponse{Status: StatusOK, RecordIDs: [][]byte{}}, nil
	}

	recordIDs, created, err := m.records.PutCreated(ctx, datasetID, recs)
	if err != nil {
		return PutRecordsResponse{}, errors.Wrapf(err, "put records of dataset %s", dataset.EncodeID(datasetID))
	}

	added := make([]dataset.Record, 0, len(recs))
	for i, r := range recs {
		if created[i] {
			r.ID = recordIDs[i]
			added = append(added, r)
		}
	}
	for _, l := range m.listeners {
		l.OnRecordsPut(ctx, ds, added)
	}
	return PutRecordsResponse{Status: StatusOK, RecordIDs: recordIDs}, nil
}

func (m *Manager) GetRecords(ctx context.Context, datasetID []byte, recordIDs [][]byte) (GetRecordsResponse, error) {
	if _, resp, err := m.dataset(ctx, datasetID); err != nil || resp != nil {
		return GetRecordsResponse{Status: resp.status(), Msg: resp.msg()}, err
	}
	for i, id := range recordIDs {
		if len(id) != dataset.RecordIDLength {
			return GetRecordsResponse{
				Status: StatusInvalidRecord,
				Msg:    fmt.Sprintf("record id %d has %d bytes, expected %d", i, len(id), dataset.RecordIDLength),
			}, nil
		}
	}

	recs, err := m.records.Get(ctx, datasetID, recordIDs)
	if err != nil {
		return GetRecordsResponse{}, err
	}
	return GetRecordsResponse{Status: StatusOK, Records: recs}, nil
}

func (m *Manager) SampleRecords(ctx context.Context, datasetID []byte, fraction float64, limit int) (GetRecordsResponse, error) {
	if !(fraction > 0 && fraction <= 1) {
		return GetRecordsResponse{Status: StatusInvalidRequest, Msg: fmt.Sprintf("fraction must be in (0, 1], got %v", fraction)}, nil
	}
	if _, resp, err := m.dataset(ctx, datasetID); err != nil || resp != nil {
		return GetRecordsResponse{Status: resp.status(), Msg: resp.msg()}, err
	}

	recs, err := m.records.Sample(ctx, datasetID, fraction, limit)
	if err != nil {
		return GetRecordsResponse{}, err
	}
	return GetRecordsResponse{Status: StatusOK, Records: recs}, nil
}

func (m *Manager) GetSummary(ctx context.Context, datasetID []byte) (GetSummaryResponse, error) {
	ds, resp, err := m.dataset(ctx, datasetID)
	if err != nil || resp != nil {
		return GetSummaryResponse{Status: resp.status(), Msg: resp.msg()}, err
	}

	s, ok, err := m.summarizer.Get(ctx, datasetID)
	if err != nil {
		return GetSummaryResponse{}, err
	}
	if !ok || !s.Schema().Equal(ds.Schema) {
		s = summary.New(ds.ID, ds.Schema)
	}
	return GetSummaryResponse{Status: StatusOK, Summary: s}, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// rejection is a status returned instead of a result. The methods are safe on a nil receiver.
type rejection struct {
	code Status
	text string
}

func (r *rejection) status() Status {
	if r == nil {
		return StatusOK
	}
	return r.code
}

func (r *rejection) msg() string {
	if r == nil {
		return ""
	}
	return r.text
}

// dataset loads a dataset from the metadata store. If the id is malformed or unknown,
// a rejection with StatusInvalidDatasetID is returned.
func (m *Manager) dataset(ctx context.Context, datasetID []byte) (dataset.Dataset, *rejection, error) {
	if len(datasetID) != dataset.IDLength {
		return dataset.Dataset{}, &rejection{StatusInvalidDatasetID, invalidIDMsg(datasetID)}, nil
	}
	ds, ok, err := m.meta.GetDataset(ctx, datasetID)
	if err != nil {
		return dataset.Dataset{}, nil, err
	}
	if !ok {
		return dataset.Dataset{}, &rejection{
			StatusInvalidDatasetID,
			fmt.Sprintf("no dataset with id %s", dataset.EncodeID(datasetID)),
		}, nil
	}
	return ds, nil, nil
}

// existing decides a create request for an id that may already exist. done is false if
// no dataset with the id exists.
func (m *Manager) existing(ctx context.Context, req CreateDatasetRequest) (resp CreateDatasetResponse, done bool, err error) {
	ds, ok, err := m.meta.GetDataset(ctx, req.ID)
	if err != nil || !ok {
		return CreateDatasetResponse{}, false, err
	}
	if !ds.Schema.Equal(req.Schema) {
		return idExists(req.ID), true, nil
	}
	Logger.Debugf("dataset %s already exists with an equal schema", dataset.EncodeID(req.ID))
	return CreateDatasetResponse{Status: StatusOK, ID: ds.ID}, true, nil
}

// publish runs inside the metadata transaction of a fresh dataset. Records and a summary left
// behind by a deleted dataset with the same id are dropped before the schema is published.
func (m *Manager) publish(ctx context.Context, ds dataset.Dataset) error {
	if err := m.records.Purge(ctx, ds.ID); err != nil {
		return err
	}
	if err := m.summarizer.Purge(ctx, ds.ID); err != nil {
		return err
	}
	return m.schemas.PublishDataset(ctx, ds)
}

// purge removes everything stored for a deleted dataset besides its metadata row.
// Failures are logged only, the dataset is gone either way.
func (m *Manager) purge(ctx context.Context, datasetID []byte) {
	if err := m.schemas.Evict(ctx, datasetID); err != nil {
		Logger.Warningf("purge: %v", err)
	}
	if err := m.records.Purge(ctx, datasetID); err != nil {
		Logger.Warningf("purge: %v", err)
	}
	if err := m.summarizer.Purge(ctx, datasetID); err != nil {
		Logger.Warningf("purge: %v", err)
	}
}

func duplicateName(req CreateDatasetRequest) CreateDatasetResponse {
	return CreateDatasetResponse{
		Status: StatusDuplicateDatasetName,
		Msg:    fmt.Sprintf("user %d already has a dataset named %q", req.UserID, req.Name),
	}
}

func idExists(id []byte) CreateDatasetResponse {
	return CreateDatasetResponse{
		Status: StatusDatasetIDAlreadyExists,
		Msg:    fmt.Sprintf("dataset %s already exists with a different schema", dataset.EncodeID(id)),
	}
}

func invalidIDMsg(id []byte) string {
	return fmt.Sprintf("dataset id must have %d bytes, got %d", dataset.IDLength, len(id))
}
