package dataset

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		{Name: "height", Type: Numerical},
		{Name: "weight", Type: Numerical},
		{Name: "age", Type: Numerical},
		{Name: "colour", Type: Categorical},
	}
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
		err    error
	}{
		{"valid", testSchema(), nil},
		{"empty", Schema{}, nil},
		{"missing name", Schema{{Name: "", Type: Numerical}}, ErrInvalidFeatureType},
		{"unknown type", Schema{{Name: "x", Type: FeatureTypeUnknown}}, ErrInvalidFeatureType},
		{"out of range type", Schema{{Name: "x", Type: FeatureType(42)}}, ErrInvalidFeatureType},
		{"duplicate", Schema{{Name: "x", Type: Numerical}, {Name: "x", Type: Categorical}}, ErrDuplicateFeatureName},
		{"invalid before duplicate", Schema{{Name: "x", Type: Numerical}, {Name: "x", Type: Numerical}, {Name: "y"}}, ErrInvalidFeatureType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tt.err), "expected %v, got %v", tt.err, err)
		})
	}
}

func TestSchemaEqual(t *testing.T) {
	a := testSchema()
	require.True(t, a.Equal(testSchema()))

	reordered := testSchema()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	require.False(t, a.Equal(reordered))

	retyped := testSchema()
	retyped[3].Type = Numerical
	require.False(t, a.Equal(retyped))

	require.False(t, a.Equal(a[:3]))
	require.True(t, Schema{}.Equal(nil))
}

func TestSchemaCheckRecord(t *testing.T) {
	s := testSchema()

	require.NoError(t, s.Check(Record{Numericals: []float64{1, 2, 3}, Categoricals: []string{"red"}}))
	require.NoError(t, s.Check(Record{ID: make([]byte, 8), Numericals: []float64{1, 2, 3}, Categoricals: []string{"red"}}))

	err := s.Check(Record{Numericals: []float64{1, 2}, Categoricals: []string{"red"}})
	require.True(t, errors.Is(err, ErrInvalidRecord))

	err = s.Check(Record{Numericals: []float64{1, 2, 3}})
	require.True(t, errors.Is(err, ErrInvalidRecord))

	err = s.Check(Record{ID: []byte{1, 2, 3}, Numericals: []float64{1, 2, 3}, Categoricals: []string{"red"}})
	require.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestSchemaEncoding(t *testing.T) {
	s := testSchema()

	b := MarshalSchema(s)
	require.Equal(t, b, MarshalSchema(testSchema()), "encoding must be deterministic")

	decoded, err := UnmarshalSchema(b)
	require.NoError(t, err)
	require.True(t, s.Equal(decoded))

	empty, err := UnmarshalSchema(nil)
	require.NoError(t, err)
	require.Len(t, empty, 0)

	_, err = UnmarshalSchema([]byte{0x0a, 0xff})
	require.Error(t, err)
}

func TestRecordEncoding(t *testing.T) {
	id := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	r := Record{
		ID:           id,
		Numericals:   []float64{1.5, -0.25, math.MaxFloat64, math.Inf(-1)},
		Categoricals: []string{"red", "", "ünïcødé"},
	}

	decoded, err := UnmarshalRecord(id, MarshalRecord(r))
	require.NoError(t, err)
	require.Equal(t, r, decoded)

	onlyCategorical := Record{ID: id, Categoricals: []string{"a"}}
	decoded, err = UnmarshalRecord(id, MarshalRecord(onlyCategorical))
	require.NoError(t, err)
	require.Equal(t, onlyCategorical, decoded)
}

func TestFeatureTypeJSON(t *testing.T) {
	b, err := json.Marshal(testSchema())
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"NUMERICAL"`)
	require.Contains(t, string(b), `"type":"CATEGORICAL"`)

	var s Schema
	require.NoError(t, json.Unmarshal(b, &s))
	require.True(t, testSchema().Equal(s))

	var ft FeatureType
	require.NoError(t, json.Unmarshal([]byte(`"BOOLEAN"`), &ft))
	require.Equal(t, FeatureTypeUnknown, ft)
}

func TestIDEncoding(t *testing.T) {
	id := []byte{0xfb, 0xff, 0x00, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80, 0x90, 0xa0, 0xb0, 0xc0, 0xd0}
	s := EncodeID(id)
	require.NotContains(t, s, "+")
	require.NotContains(t, s, "/")
	require.NotContains(t, s, "=")

	decoded, err := DecodeID(s)
	require.NoError(t, err)
	require.Equal(t, id, decoded)

	decoded, err = DecodeID(s + "==")
	require.NoError(t, err)
	require.Equal(t, id, decoded)

	_, err = DecodeID("not base64!")
	require.Error(t, err)
}
