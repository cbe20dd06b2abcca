package ids

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultMaxCount is the default upper bound for the number of ids generated in one call.
const DefaultMaxCount = 100_000

// CountTooLargeError is returned when more ids are requested than the generator allows.
type CountTooLargeError struct {
	Max       int
	Requested int
}

func (e *CountTooLargeError) Error() string {
	return fmt.Sprintf("Cannot generate more than %d in one call (%d requested).", e.Max, e.Requested)
}

// Generator creates dataset and record identifiers.
//
// Ids are drawn from a cryptographically strong random source and the generator holds no
// state besides its limit. Dataset ids are random uuids (128 bit). Record ids are 64 bit
// and only need to be unique within the bucket of one dataset.
type Generator struct {
	maxCount int
}

// NewGenerator creates a generator that refuses to create more than maxCount ids per call.
// A maxCount <= 0 selects DefaultMaxCount.
func NewGenerator(maxCount int) *Generator {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return &Generator{maxCount: maxCount}
}

// MaxCount returns the largest count accepted by DatasetIDs and RecordIDs.
func (g *Generator) MaxCount() int {
	return g.maxCount
}

// DatasetID returns a single new 16 byte dataset id.
func (g *Generator) DatasetID() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, "generate dataset id")
	}
	b := make([]byte, len(id))
	copy(b, id[:])
	return b, nil
}

// DatasetIDs returns count distinct 16 byte ids. If count exceeds the configured maximum,
// a *CountTooLargeError is returned and no ids are generated.
func (g *Generator) DatasetIDs(count int) ([][]byte, error) {
	if err := g.checkCount(count); err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, count)
	result := make([][]byte, 0, count)
	for len(result) < count {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, errors.Wrap(err, "generate dataset id")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		b := make([]byte, len(id))
		copy(b, id[:])
		result = append(result, b)
	}
	return result, nil
}

// RecordIDs returns count distinct 8 byte record ids, encoded little-endian.
func (g *Generator) RecordIDs(count int) ([][]byte, error) {
	if err := g.checkCount(count); err != nil {
		return nil, err
	}

	buf := make([]byte, 8*count)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "generate record ids")
	}

	seen := make(map[uint64]struct{}, count)
	result := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		v := binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
		for {
			if _, dup := seen[v]; !dup {
				break
			}
			var extra [8]byte
			if _, err := rand.Read(extra[:]); err != nil {
				return nil, errors.Wrap(err, "generate record ids")
			}
			v = binary.LittleEndian.Uint64(extra[:])
		}
		seen[v] = struct{}{}
		result = append(result, EncodeRecordID(v))
	}
	return result, nil
}

func (g *Generator) checkCount(count int) error {
	if count < 0 {
		return errors.Errorf("count must not be negative (%d requested)", count)
	}
	if count > g.maxCount {
		return &CountTooLargeError{Max: g.maxCount, Requested: count}
	}
	return nil
}

// --------------------------------------------------------------------------
// Record id helpers
// --------------------------------------------------------------------------

// EncodeRecordID returns the 8 byte little-endian form of a record id.
func EncodeRecordID(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeRecordID returns the numeric value of an 8 byte record id.
func DecodeRecordID(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Errorf("record id must have 8 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}
