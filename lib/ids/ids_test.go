package ids

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDatasetIDs(t *testing.T) {
	g := NewGenerator(0)
	require.Equal(t, DefaultMaxCount, g.MaxCount())

	generated, err := g.DatasetIDs(10)
	require.NoError(t, err)
	require.Len(t, generated, 10)

	seen := make(map[string]struct{})
	for _, id := range generated {
		require.Len(t, id, 16)
		seen[string(id)] = struct{}{}
	}
	require.Len(t, seen, 10)

	none, err := g.DatasetIDs(0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestCountTooLarge(t *testing.T) {
	g := NewGenerator(0)

	generated, err := g.DatasetIDs(1_000_000)
	require.Empty(t, generated)

	var tooLarge *CountTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	require.Equal(t, DefaultMaxCount, tooLarge.Max)
	require.Equal(t, 1_000_000, tooLarge.Requested)
	require.Equal(t, "Cannot generate more than 100000 in one call (1000000 requested).", err.Error())

	small := NewGenerator(5)
	_, err = small.RecordIDs(6)
	require.True(t, errors.As(err, &tooLarge))

	_, err = small.RecordIDs(5)
	require.NoError(t, err)

	_, err = small.DatasetIDs(-1)
	require.Error(t, err)
}

func TestRecordIDs(t *testing.T) {
	g := NewGenerator(0)

	generated, err := g.RecordIDs(1000)
	require.NoError(t, err)
	require.Len(t, generated, 1000)

	seen := make(map[uint64]struct{})
	for _, id := range generated {
		require.Len(t, id, 8)
		v, err := DecodeRecordID(id)
		require.NoError(t, err)
		seen[v] = struct{}{}
	}
	require.Len(t, seen, 1000)
}

func TestRecordIDEncoding(t *testing.T) {
	b := EncodeRecordID(0x0102030405060708)
	require.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, b)

	v, err := DecodeRecordID(b)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), v)

	_, err = DecodeRecordID([]byte{1, 2, 3})
	require.Error(t, err)
}
