package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// IDLength is the width of a dataset id in bytes.
const IDLength = 16

// RecordIDLength is the width of a record id in bytes.
const RecordIDLength = 8

var (
	ErrInvalidFeatureType   = errors.New("every feature needs a name and a known type")
	ErrDuplicateFeatureName = errors.New("feature names must be unique within a schema")
	ErrInvalidRecord        = errors.New("record does not match the dataset schema")
)

// --------------------------------------------------------------------------
// Feature Types
// --------------------------------------------------------------------------

// FeatureType is the value type of a single feature.
type FeatureType uint8

const (
	FeatureTypeUnknown FeatureType = iota
	Numerical
	Categorical
)

// String returns the string representation of a FeatureType.
func (t FeatureType) String() string {
	switch t {
	case Numerical:
		return "NUMERICAL"
	case Categorical:
		return "CATEGORICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseFeatureType converts the textual form produced by String (or its lower case variant) back into a FeatureType.
// Unknown names map to FeatureTypeUnknown.
func ParseFeatureType(s string) FeatureType {
	switch s {
	case "NUMERICAL", "numerical":
		return Numerical
	case "CATEGORICAL", "categorical":
		return Categorical
	default:
		return FeatureTypeUnknown
	}
}

// MarshalJSON serializes the feature type as its name.
func (t FeatureType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the name of a feature type.
func (t *FeatureType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseFeatureType(s)
	return nil
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// Feature is a named, typed column of a dataset.
type Feature struct {
	Name string      `json:"name"`
	Type FeatureType `json:"type"`
}

// Schema is the ordered list of features of a dataset. The order is significant:
// numerical and categorical values of a record follow the order of the matching features.
type Schema []Feature

// Validate checks the schema for features without name or type and for duplicate names.
// Missing names and unknown types are reported before duplicates.
func (s Schema) Validate() error {
	for _, f := range s {
		if f.Name == "" || (f.Type != Numerical && f.Type != Categorical) {
			return errors.WithMessagef(ErrInvalidFeatureType, "feature %q has type %s", f.Name, f.Type)
		}
	}

	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if _, ok := seen[f.Name]; ok {
			return errors.WithMessagef(ErrDuplicateFeatureName, "feature %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Equal compares two schemas field by field, including the order of the features.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Arity returns the number of numerical and categorical features.
func (s Schema) Arity() (numericals, categoricals int) {
	for _, f := range s {
		switch f.Type {
		case Numerical:
			numericals++
		case Categorical:
			categoricals++
		}
	}
	return numericals, categoricals
}

// Check reports whether the record carries one value per feature of the schema.
// An explicit record id must be exactly RecordIDLength bytes long.
func (s Schema) Check(r Record) error {
	if r.ID != nil && len(r.ID) != RecordIDLength {
		return errors.WithMessagef(ErrInvalidRecord, "record id has %d bytes, expected %d", len(r.ID), RecordIDLength)
	}
	numericals, categoricals := s.Arity()
	if len(r.Numericals) != numericals || len(r.Categoricals) != categoricals {
		return errors.WithMessagef(ErrInvalidRecord,
			"got %d numerical and %d categorical values, expected %d and %d",
			len(r.Numericals), len(r.Categoricals), numericals, categoricals)
	}
	return nil
}

// --------------------------------------------------------------------------
// Records, Datasets and Users
// --------------------------------------------------------------------------

// Record is a single row of a dataset. ID is nil if the id has not been assigned yet.
type Record struct {
	ID           []byte    `json:"id,omitempty"`
	Numericals   []float64 `json:"numericals,omitempty"`
	Categoricals []string  `json:"categoricals,omitempty"`
}

// Dataset is the metadata entry of a dataset. Username and Email are only set when the
// dataset was read joined with its owner.
type Dataset struct {
	ID       []byte    `json:"id"`
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Schema   Schema    `json:"schema"`
	Private  bool      `json:"private"`
	Frozen   bool      `json:"frozen"`
	Created  time.Time `json:"created"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
}

// Equal compares all fields of two datasets.
func (d Dataset) Equal(other Dataset) bool {
	return bytes.Equal(d.ID, other.ID) &&
		d.UserID == other.UserID &&
		d.Name == other.Name &&
		d.Schema.Equal(other.Schema) &&
		d.Private == other.Private &&
		d.Frozen == other.Frozen &&
		d.Created.Equal(other.Created) &&
		d.Username == other.Username &&
		d.Email == other.Email
}

func (d Dataset) String() string {
	return fmt.Sprintf("Dataset{id=%s user=%d name=%q features=%d}", EncodeID(d.ID), d.UserID, d.Name, len(d.Schema))
}

// User is the owner of datasets. Users are managed outside of this service.
type User struct {
	ID       int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
