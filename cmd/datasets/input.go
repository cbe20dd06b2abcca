package datasets

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/ids"
	"github.com/pkg/errors"
)

// parseSchema parses the "name:type,name:type" notation of schemas
func parseSchema(s string) (dataset.Schema, error) {
	var schema dataset.Schema
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid feature %q, expected name:type", part)
		}
		schema = append(schema, dataset.Feature{
			Name: strings.TrimSpace(name),
			Type: dataset.ParseFeatureType(strings.ToLower(strings.TrimSpace(typ))),
		})
	}
	return schema, nil
}

// parseRecordID parses the decimal notation of a record id
func parseRecordID(s string) ([]byte, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid record id %q", s)
	}
	return ids.EncodeRecordID(v), nil
}

// formatRecordID is the inverse of parseRecordID
func formatRecordID(id []byte) string {
	v, err := ids.DecodeRecordID(id)
	if err != nil {
		return dataset.EncodeID(id)
	}
	return strconv.FormatUint(v, 10)
}

// readJSONRecords reads a JSON array of records. Numerical values may be null for missing values.
func readJSONRecords(r io.Reader) ([]dataset.Record, error) {
	var rows []struct {
		Numericals   []*float64 `json:"numericals"`
		Categoricals []string   `json:"categoricals"`
	}
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "invalid records")
	}

	recs := make([]dataset.Record, len(rows))
	for i, row := range rows {
		recs[i].Categoricals = row.Categoricals
		recs[i].Numericals = make([]float64, len(row.Numericals))
		for j, v := range row.Numericals {
			if v == nil {
				recs[i].Numericals[j] = math.NaN()
			} else {
				recs[i].Numericals[j] = *v
			}
		}
	}
	return recs, nil
}

// readCSVRecords reads one record per row with the columns in schema order.
// Empty cells are missing values.
func readCSVRecords(r io.Reader, schema dataset.Schema, header bool) ([]dataset.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(schema)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "invalid csv")
	}
	if header && len(rows) > 0 {
		rows = rows[1:]
	}

	recs := make([]dataset.Record, 0, len(rows))
	for i, row := range rows {
		var rec dataset.Record
		for j, f := range schema {
			cell := strings.TrimSpace(row[j])
			switch f.Type {
			case dataset.Numerical:
				v := math.NaN()
				if cell != "" {
					if v, err = strconv.ParseFloat(cell, 64); err != nil {
						return nil, errors.Wrapf(err, "row %d, column %s", i+1, f.Name)
					}
				}
				rec.Numericals = append(rec.Numericals, v)
			default:
				rec.Categoricals = append(rec.Categoricals, cell)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
