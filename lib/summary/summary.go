package summary

import (
	"bytes"
	"maps"
	"math"

	"github.com/ValentinKolb/saltfish/lib/dataset"
)

// FeatureSummary are the statistics of one feature. Only the fields matching the type of the
// feature are set.
type FeatureSummary struct {
	Name       string              `json:"name"`
	Type       dataset.FeatureType `json:"type"`
	NumValues  uint64              `json:"num_values"`
	NumMissing uint64              `json:"num_missing"`

	// numerical features, updated with Welford's algorithm
	Mean float64 `json:"mean,omitempty"`
	M2   float64 `json:"m2,omitempty"`
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`

	// categorical features
	Histogram map[string]uint64 `json:"histogram,omitempty"`
}

// Variance returns the sample variance, NaN if there are less than two values.
func (f FeatureSummary) Variance() float64 {
	if f.NumValues < 2 {
		return math.NaN()
	}
	return f.M2 / float64(f.NumValues-1)
}

// NumUniqueValues returns the number of distinct categorical values.
func (f FeatureSummary) NumUniqueValues() int {
	return len(f.Histogram)
}

func (f *FeatureSummary) pushNumerical(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		f.NumMissing++
		return
	}
	f.NumValues++
	if f.NumValues == 1 {
		f.Min, f.Max = v, v
	} else {
		f.Min = math.Min(f.Min, v)
		f.Max = math.Max(f.Max, v)
	}
	delta := v - f.Mean
	f.Mean += delta / float64(f.NumValues)
	f.M2 += delta * (v - f.Mean)
}

func (f *FeatureSummary) pushCategorical(v string) {
	if v == "" {
		f.NumMissing++
		return
	}
	f.NumValues++
	if f.Histogram == nil {
		f.Histogram = make(map[string]uint64)
	}
	f.Histogram[v]++
}

// Summary are the statistics of all records of a dataset, one entry per feature in schema order.
type Summary struct {
	DatasetID  []byte           `json:"dataset_id"`
	NumRecords uint64           `json:"num_records"`
	Features   []FeatureSummary `json:"features"`
}

// New returns an empty summary for a dataset with the given schema.
func New(datasetID []byte, schema dataset.Schema) *Summary {
	s := &Summary{
		DatasetID: bytes.Clone(datasetID),
		Features:  make([]FeatureSummary, len(schema)),
	}
	for i, f := range schema {
		s.Features[i] = FeatureSummary{Name: f.Name, Type: f.Type}
	}
	return s
}

// Schema returns the schema the summary was created for.
func (s *Summary) Schema() dataset.Schema {
	schema := make(dataset.Schema, len(s.Features))
	for i, f := range s.Features {
		schema[i] = dataset.Feature{Name: f.Name, Type: f.Type}
	}
	return schema
}

// Push adds a record. Records that do not match the schema are rejected with
// dataset.ErrInvalidRecord and leave the summary unchanged.
func (s *Summary) Push(r dataset.Record) error {
	if err := s.Schema().Check(r); err != nil {
		return err
	}
	var n, c int
	for i := range s.Features {
		f := &s.Features[i]
		switch f.Type {
		case dataset.Numerical:
			f.pushNumerical(r.Numericals[n])
			n++
		case dataset.Categorical:
			f.pushCategorical(r.Categoricals[c])
			c++
		}
	}
	s.NumRecords++
	return nil
}

// Clone returns a deep copy of the summary.
func (s *Summary) Clone() *Summary {
	out := &Summary{
		DatasetID:  bytes.Clone(s.DatasetID),
		NumRecords: s.NumRecords,
		Features:   make([]FeatureSummary, len(s.Features)),
	}
	for i, f := range s.Features {
		f.Histogram = maps.Clone(f.Histogram)
		out.Features[i] = f
	}
	return out
}
