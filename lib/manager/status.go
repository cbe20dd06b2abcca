package manager

import (
	"encoding/json"
	"fmt"
)

// Status is the outcome of a manager operation. Validation failures and conflicts are
// reported with a status; failures of the underlying stores are returned as errors.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidUserID
	StatusInvalidFeatureType
	StatusDuplicateFeatureName
	StatusDuplicateDatasetName
	StatusDatasetIDAlreadyExists
	StatusInvalidDatasetID
	StatusCountTooLarge
	StatusInvalidRequest
	StatusInvalidRecord
)

var statusNames = map[Status]string{
	StatusOK:                     "OK",
	StatusInvalidUserID:          "INVALID_USER_ID",
	StatusInvalidFeatureType:     "INVALID_FEATURE_TYPE",
	StatusDuplicateFeatureName:   "DUPLICATE_FEATURE_NAME",
	StatusDuplicateDatasetName:   "DUPLICATE_DATASET_NAME",
	StatusDatasetIDAlreadyExists: "DATASET_ID_ALREADY_EXISTS",
	StatusInvalidDatasetID:       "INVALID_DATASET_ID",
	StatusCountTooLarge:          "COUNT_TOO_LARGE",
	StatusInvalidRequest:         "INVALID_REQUEST",
	StatusInvalidRecord:          "INVALID_RECORD",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus returns the status with the given name.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// MarshalJSON serializes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the name of a status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseStatus(name)
	if !ok {
		return fmt.Errorf("unknown status %q", name)
	}
	*s = parsed
	return nil
}
