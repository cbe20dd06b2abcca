package dataset

import (
	"encoding/base64"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

/*
Schemas and records are stored in the protobuf wire format, so that other consumers of the
key-value store can decode them with a plain message definition:

	message Feature { string name = 1; int32 type = 2; }
	message Schema  { repeated Feature features = 1; }
	message Record  { repeated double numericals = 1; repeated string categoricals = 2; }

The record id is not part of the value, it is the key of the entry.
*/

const (
	fieldSchemaFeatures    protowire.Number = 1
	fieldFeatureName       protowire.Number = 1
	fieldFeatureType       protowire.Number = 2
	fieldRecordNumericals  protowire.Number = 1
	fieldRecordCategorical protowire.Number = 2
)

// --------------------------------------------------------------------------
// Schema encoding
// --------------------------------------------------------------------------

// MarshalSchema encodes a schema. Equal schemas always produce equal bytes.
func MarshalSchema(s Schema) []byte {
	var b []byte
	for _, f := range s {
		var fb []byte
		fb = protowire.AppendTag(fb, fieldFeatureName, protowire.BytesType)
		fb = protowire.AppendString(fb, f.Name)
		fb = protowire.AppendTag(fb, fieldFeatureType, protowire.VarintType)
		fb = protowire.AppendVarint(fb, uint64(f.Type))

		b = protowire.AppendTag(b, fieldSchemaFeatures, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b
}

// UnmarshalSchema decodes a schema written by MarshalSchema. Unknown fields are skipped.
func UnmarshalSchema(b []byte) (Schema, error) {
	s := Schema{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "schema tag")
		}
		b = b[n:]

		if num == fieldSchemaFeatures && typ == protowire.BytesType {
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "schema feature")
			}
			f, err := unmarshalFeature(fb)
			if err != nil {
				return nil, err
			}
			s = append(s, f)
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "schema field")
		}
		b = b[n:]
	}
	return s, nil
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, errors.Wrap(protowire.ParseError(n), "feature tag")
		}
		b = b[n:]

		switch {
		case num == fieldFeatureName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return f, errors.Wrap(protowire.ParseError(n), "feature name")
			}
			f.Name = v
			b = b[n:]
		case num == fieldFeatureType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, errors.Wrap(protowire.ParseError(n), "feature type")
			}
			f.Type = FeatureType(v)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, errors.Wrap(protowire.ParseError(n), "feature field")
			}
			b = b[n:]
		}
	}
	return f, nil
}

// --------------------------------------------------------------------------
// Record encoding
// --------------------------------------------------------------------------

// MarshalRecord encodes the values of a record. Numerical values are packed.
func MarshalRecord(r Record) []byte {
	var b []byte
	if len(r.Numericals) > 0 {
		packed := make([]byte, 0, 8*len(r.Numericals))
		for _, v := range r.Numericals {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, fieldRecordNumericals, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	for _, v := range r.Categoricals {
		b = protowire.AppendTag(b, fieldRecordCategorical, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

// UnmarshalRecord decodes the values written by MarshalRecord. Both the packed and the
// unpacked representation of the numerical values are accepted.
func UnmarshalRecord(id []byte, b []byte) (Record, error) {
	r := Record{ID: id}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, errors.Wrap(protowire.ParseError(n), "record tag")
		}
		b = b[n:]

		switch {
		case num == fieldRecordNumericals && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "record numericals")
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return r, errors.Wrap(protowire.ParseError(m), "record numerical")
				}
				r.Numericals = append(r.Numericals, math.Float64frombits(v))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldRecordNumericals && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "record numerical")
			}
			r.Numericals = append(r.Numericals, math.Float64frombits(v))
			b = b[n:]
		case num == fieldRecordCategorical && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "record categorical")
			}
			r.Categoricals = append(r.Categoricals, v)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "record field")
			}
			b = b[n:]
		}
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Id encoding (only used at the edges, e.g. for bucket names and the CLI)
// --------------------------------------------------------------------------

// EncodeID returns the url-safe base64 form of an id, without padding.
func EncodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// DecodeID parses an id produced by EncodeID. Padded input is accepted as well.
func DecodeID(s string) ([]byte, error) {
	if id, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return id, nil
	}
	id, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid id %q", s)
	}
	return id, nil
}
