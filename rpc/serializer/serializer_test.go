package serializer

import (
	"math"
	"testing"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/summary"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

var testSchema = dataset.Schema{
	{Name: "age", Type: dataset.Numerical},
	{Name: "city", Type: dataset.Categorical},
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Put request
		{
			MsgType: common.MsgTKVPut,
			Bucket:  "/ml/sources/data/abc",
			Key:     []byte{0, 0, 0, 0, 0, 0, 0, 7},
			Value:   []byte("test-value"),
			Indexes: store.Indexes{"randomindex_int": -42, "other_int": math.MaxInt64},
		},

		// IndexRange request
		{
			MsgType: common.MsgTKVIndexRange,
			Bucket:  "bucket",
			Index:   "randomindex_int",
			Min:     math.MinInt64,
			Max:     12,
			Limit:   100,
		},

		// Keys response
		{
			MsgType: common.MsgTKVKeys,
			IDs:     [][]byte{[]byte("a"), []byte("b")},
		},

		// Store error response
		{
			MsgType: common.MsgTKVGet,
			Err:     "store is closed",
			ErrCode: uint64(store.RetCClosed),
		},

		// CreateDataset request
		{
			MsgType:   common.MsgTDSCreate,
			DatasetID: make([]byte, dataset.IDLength),
			UserID:    3,
			Name:      "census",
			Schema:    testSchema,
			Private:   true,
		},

		// PutRecords request
		{
			MsgType:   common.MsgTDSPutRecords,
			DatasetID: []byte("0123456789abcdef"),
			Records: []dataset.Record{
				{Numericals: []float64{1.5}, Categoricals: []string{"Berlin"}},
				{ID: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Numericals: []float64{-3}, Categoricals: []string{"Ulm"}},
			},
		},

		// SampleRecords request
		{
			MsgType:   common.MsgTDSSampleRecords,
			DatasetID: []byte("0123456789abcdef"),
			Fraction:  0.25,
			Limit:     10,
		},

		// GenerateID response
		{
			MsgType: common.MsgTDSGenerateID,
			Status:  manager.StatusCountTooLarge,
			Msg:     "Cannot generate more than 100000 in one call (1000000 requested).",
		},

		// GetSummary response
		{
			MsgType: common.MsgTDSGetSummary,
			Summary: &summary.Summary{
				DatasetID:  []byte("0123456789abcdef"),
				NumRecords: 3,
				Features: []summary.FeatureSummary{
					{Name: "age", Type: dataset.Numerical, NumValues: 2, NumMissing: 1, Mean: 30, M2: 200, Min: 20, Max: 40},
					{Name: "city", Type: dataset.Categorical, NumValues: 3, Histogram: map[string]uint64{"Berlin": 2, "Ulm": 1}},
				},
			},
		},

		// DeleteDataset response
		{
			MsgType: common.MsgTDSDelete,
			Ok:      true,
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range testMessages() {
				data, err := serializer.Serialize(msg)
				require.NoError(t, err, "message %d", i)

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), "message %d", i)
				assert.Equal(t, msg, result, "message %d", i)
			}
		})
	}
}

// TestDatasetsRoundTrip compares datasets with Dataset.Equal, since the location of the
// creation time is not preserved by every serializer
func TestDatasetsRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.UTC)
	msg := common.Message{
		MsgType: common.MsgTDSGet,
		Datasets: []dataset.Dataset{
			{
				ID: []byte("0123456789abcdef"), UserID: 1, Name: "first", Schema: testSchema,
				Frozen: true, Created: created, Username: "alice", Email: "alice@example.com",
			},
			{
				ID: []byte("fedcba9876543210"), UserID: 2, Schema: dataset.Schema{},
				Created: created.Add(time.Second), Username: "bob",
			},
		},
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(msg)
			require.NoError(t, err)

			var result common.Message
			require.NoError(t, serializer.Deserialize(data, &result))
			require.Len(t, result.Datasets, len(msg.Datasets))
			for i := range msg.Datasets {
				assert.True(t, msg.Datasets[i].Equal(result.Datasets[i]), "dataset %d: %v", i, result.Datasets[i])
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTDSGetSummary; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				require.NoError(t, err, msgType.String())

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), msgType.String())
				assert.Equal(t, msgType, result.MsgType)
			}
		})
	}
}

func TestMissingValues(t *testing.T) {
	msg := common.Message{
		MsgType: common.MsgTDSPutRecords,
		Records: []dataset.Record{{Numericals: []float64{math.NaN()}, Categoricals: []string{""}}},
	}

	for _, name := range []string{"GOB", "Binary"} {
		t.Run(name, func(t *testing.T) {
			serializer := testSerializers[name]()
			data, err := serializer.Serialize(msg)
			require.NoError(t, err)

			var result common.Message
			require.NoError(t, serializer.Deserialize(data, &result))
			require.Len(t, result.Records, 1)
			assert.True(t, math.IsNaN(result.Records[0].Numericals[0]))
			assert.Equal(t, []string{""}, result.Records[0].Categoricals)
		})
	}

	t.Run("JSON", func(t *testing.T) {
		_, err := NewJSONSerializer().Serialize(msg)
		assert.Error(t, err, "json has no representation for NaN")
	})
}

func TestBinaryEmptyValue(t *testing.T) {
	s := NewBinarySerializer()
	data, err := s.Serialize(*common.NewPutRequest("bucket", []byte("key"), []byte{}, nil))
	require.NoError(t, err)

	var result common.Message
	require.NoError(t, s.Deserialize(data, &result))
	assert.NotNil(t, result.Value)
	assert.Empty(t, result.Value)
	assert.Nil(t, result.Indexes)
}

func TestBinaryMalformedInput(t *testing.T) {
	s := NewBinarySerializer()
	data, err := s.Serialize(common.Message{MsgType: common.MsgTKVPut, Bucket: "b", Value: []byte("value")})
	require.NoError(t, err)

	var result common.Message
	assert.Error(t, s.Deserialize(data[:len(data)-1], &result))

	// wrong wire type for the message type
	bad := protowire.AppendTag(nil, fMsgType, protowire.BytesType)
	bad = protowire.AppendBytes(bad, []byte("x"))
	assert.Error(t, s.Deserialize(bad, &result))
}

func TestBinarySkipsUnknownFields(t *testing.T) {
	s := NewBinarySerializer()
	msg := common.Message{MsgType: common.MsgTKVHas, Bucket: "b", Key: []byte("k"), Ok: true}
	data, err := s.Serialize(msg)
	require.NoError(t, err)

	data = protowire.AppendTag(data, 99, protowire.VarintType)
	data = protowire.AppendVarint(data, 12345)

	var result common.Message
	require.NoError(t, s.Deserialize(data, &result))
	assert.Equal(t, msg, result)
}

func TestBinaryIsSmallest(t *testing.T) {
	msg := testMessages()[6]
	sizes := make(map[string]int)
	for name, factory := range testSerializers {
		data, err := factory().Serialize(msg)
		require.NoError(t, err)
		sizes[name] = len(data)
	}
	assert.Less(t, sizes["Binary"], sizes["JSON"])
	assert.Less(t, sizes["Binary"], sizes["GOB"])
}
