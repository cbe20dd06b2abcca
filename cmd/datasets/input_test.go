package datasets

import (
	"math"
	"strings"
	"testing"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var irisSchema = dataset.Schema{
	{Name: "length", Type: dataset.Numerical},
	{Name: "species", Type: dataset.Categorical},
	{Name: "width", Type: dataset.Numerical},
}

func TestParseSchema(t *testing.T) {
	schema, err := parseSchema("length:numerical, species:CATEGORICAL,width: Numerical")
	require.NoError(t, err)
	assert.Equal(t, irisSchema, schema)

	schema, err = parseSchema("x:text")
	require.NoError(t, err)
	assert.Equal(t, dataset.FeatureTypeUnknown, schema[0].Type)
	assert.Error(t, schema.Validate())

	_, err = parseSchema("length")
	assert.Error(t, err)

	schema, err = parseSchema("")
	require.NoError(t, err)
	assert.Empty(t, schema)
}

func TestRecordIDNotation(t *testing.T) {
	id, err := parseRecordID("258")
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1, 0, 0, 0, 0, 0, 0}, id)
	assert.Equal(t, "258", formatRecordID(id))

	_, err = parseRecordID("-1")
	assert.Error(t, err)
	_, err = parseRecordID("abc")
	assert.Error(t, err)

	// ids of other lengths fall back to base64url
	assert.Equal(t, "AQI", formatRecordID([]byte{1, 2}))
}

func TestReadJSONRecords(t *testing.T) {
	recs, err := readJSONRecords(strings.NewReader(`[
		{"numericals": [1.5, null], "categoricals": ["setosa"]},
		{"numericals": [], "categoricals": []}
	]`))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 1.5, recs[0].Numericals[0])
	assert.True(t, math.IsNaN(recs[0].Numericals[1]))
	assert.Equal(t, []string{"setosa"}, recs[0].Categoricals)
	assert.Empty(t, recs[1].Numericals)

	_, err = readJSONRecords(strings.NewReader(`{"numericals": [1]}`))
	assert.Error(t, err)
}

func TestReadCSVRecords(t *testing.T) {
	input := "length,species,width\n5.1,setosa,3.5\n,virginica,\n"

	recs, err := readCSVRecords(strings.NewReader(input), irisSchema, true)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []float64{5.1, 3.5}, recs[0].Numericals)
	assert.Equal(t, []string{"setosa"}, recs[0].Categoricals)
	require.Len(t, recs[1].Numericals, 2)
	assert.True(t, math.IsNaN(recs[1].Numericals[0]))
	assert.True(t, math.IsNaN(recs[1].Numericals[1]))
	assert.Equal(t, []string{"virginica"}, recs[1].Categoricals)

	// without --header the header row is parsed as data
	_, err = readCSVRecords(strings.NewReader(input), irisSchema, false)
	assert.Error(t, err)

	_, err = readCSVRecords(strings.NewReader("5.1,setosa\n"), irisSchema, false)
	assert.Error(t, err)

	_, err = readCSVRecords(strings.NewReader("five,setosa,3\n"), irisSchema, false)
	assert.Error(t, err)
}
