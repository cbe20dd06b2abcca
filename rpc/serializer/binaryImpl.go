package serializer

import (
	"math"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/manager"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/summary"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// NewBinarySerializer creates a new serializer that writes messages in the protobuf wire format.
// Only fields that are set are written. Schemas and records use the same encoding as in the
// key-value store (see dataset.MarshalSchema and dataset.MarshalRecord).
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using protowire
type binarySerializerImpl struct {
}

// field numbers of common.Message
const (
	fMsgType   protowire.Number = 1
	fBucket    protowire.Number = 2
	fKey       protowire.Number = 3
	fValue     protowire.Number = 4
	fIndexes   protowire.Number = 5
	fIndex     protowire.Number = 6
	fMin       protowire.Number = 7
	fMax       protowire.Number = 8
	fLimit     protowire.Number = 9
	fIDs       protowire.Number = 10
	fDatasetID protowire.Number = 11
	fUserID    protowire.Number = 12
	fName      protowire.Number = 13
	fUsername  protowire.Number = 14
	fSchema    protowire.Number = 15
	fPrivate   protowire.Number = 16
	fFrozen    protowire.Number = 17
	fCount     protowire.Number = 18
	fFraction  protowire.Number = 19
	fRecords   protowire.Number = 20
	fDatasets  protowire.Number = 21
	fSummary   protowire.Number = 22
	fStatus    protowire.Number = 23
	fMsg       protowire.Number = 24
	fOk        protowire.Number = 25
	fErr       protowire.Number = 26
	fErrCode   protowire.Number = 27
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	out := make([]byte, 0, 64+len(msg.Key)+len(msg.Value))

	out = appendVarint(out, fMsgType, uint64(msg.MsgType))

	// key-value store fields
	out = appendString(out, fBucket, msg.Bucket)
	if msg.Key != nil {
		out = appendBytes(out, fKey, msg.Key)
	}
	if msg.Value != nil {
		out = appendBytes(out, fValue, msg.Value)
	}
	for name, v := range msg.Indexes {
		var e []byte
		e = appendString(e, 1, name)
		e = protowire.AppendTag(e, 2, protowire.VarintType)
		e = protowire.AppendVarint(e, protowire.EncodeZigZag(v))
		out = appendBytes(out, fIndexes, e)
	}
	out = appendString(out, fIndex, msg.Index)
	out = appendSint(out, fMin, msg.Min)
	out = appendSint(out, fMax, msg.Max)
	out = appendSint(out, fLimit, msg.Limit)

	// dataset fields
	if msg.DatasetID != nil {
		out = appendBytes(out, fDatasetID, msg.DatasetID)
	}
	out = appendSint(out, fUserID, msg.UserID)
	out = appendString(out, fName, msg.Name)
	out = appendString(out, fUsername, msg.Username)
	if msg.Schema != nil {
		out = appendBytes(out, fSchema, dataset.MarshalSchema(msg.Schema))
	}
	out = appendBool(out, fPrivate, msg.Private)
	out = appendBool(out, fFrozen, msg.Frozen)
	out = appendSint(out, fCount, msg.Count)
	if msg.Fraction != 0 {
		out = protowire.AppendTag(out, fFraction, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(msg.Fraction))
	}
	for _, r := range msg.Records {
		var e []byte
		if r.ID != nil {
			e = appendBytes(e, 1, r.ID)
		}
		e = appendBytes(e, 2, dataset.MarshalRecord(r))
		out = appendBytes(out, fRecords, e)
	}
	for _, ds := range msg.Datasets {
		out = appendBytes(out, fDatasets, marshalDataset(ds))
	}
	if msg.Summary != nil {
		out = appendBytes(out, fSummary, marshalSummary(msg.Summary))
	}

	// response fields
	for _, id := range msg.IDs {
		out = appendBytes(out, fIDs, id)
	}
	out = appendVarint(out, fStatus, uint64(msg.Status))
	out = appendString(out, fMsg, msg.Msg)
	out = appendBool(out, fOk, msg.Ok)
	out = appendString(out, fErr, msg.Err)
	out = appendVarint(out, fErrCode, msg.ErrCode)

	return out, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	*msg = common.Message{}
	r := &fieldReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case fMsgType:
			var v uint64
			v, err = r.varint(typ)
			msg.MsgType = common.MessageType(v)
		case fBucket:
			msg.Bucket, err = r.string(typ)
		case fKey:
			msg.Key, err = r.bytes(typ)
		case fValue:
			msg.Value, err = r.bytes(typ)
		case fIndexes:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				var name string
				var v int64
				name, v, err = unmarshalIndex(e)
				if msg.Indexes == nil {
					msg.Indexes = store.Indexes{}
				}
				msg.Indexes[name] = v
			}
		case fIndex:
			msg.Index, err = r.string(typ)
		case fMin:
			msg.Min, err = r.sint(typ)
		case fMax:
			msg.Max, err = r.sint(typ)
		case fLimit:
			msg.Limit, err = r.sint(typ)
		case fIDs:
			var id []byte
			if id, err = r.bytes(typ); err == nil {
				msg.IDs = append(msg.IDs, id)
			}
		case fDatasetID:
			msg.DatasetID, err = r.bytes(typ)
		case fUserID:
			msg.UserID, err = r.sint(typ)
		case fName:
			msg.Name, err = r.string(typ)
		case fUsername:
			msg.Username, err = r.string(typ)
		case fSchema:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				msg.Schema, err = dataset.UnmarshalSchema(e)
			}
		case fPrivate:
			msg.Private, err = r.bool(typ)
		case fFrozen:
			msg.Frozen, err = r.bool(typ)
		case fCount:
			msg.Count, err = r.sint(typ)
		case fFraction:
			var v uint64
			v, err = r.fixed64(typ)
			msg.Fraction = math.Float64frombits(v)
		case fRecords:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				var rec dataset.Record
				if rec, err = unmarshalRecord(e); err == nil {
					msg.Records = append(msg.Records, rec)
				}
			}
		case fDatasets:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				var ds dataset.Dataset
				if ds, err = unmarshalDataset(e); err == nil {
					msg.Datasets = append(msg.Datasets, ds)
				}
			}
		case fSummary:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				msg.Summary, err = unmarshalSummary(e)
			}
		case fStatus:
			var v uint64
			v, err = r.varint(typ)
			msg.Status = manager.Status(v)
		case fMsg:
			msg.Msg, err = r.string(typ)
		case fOk:
			msg.Ok, err = r.bool(typ)
		case fErr:
			msg.Err, err = r.string(typ)
		case fErrCode:
			msg.ErrCode, err = r.varint(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return errors.Wrapf(err, "field %d", num)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Nested messages
// --------------------------------------------------------------------------

func unmarshalIndex(b []byte) (string, int64, error) {
	var name string
	var v int64
	r := &fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return "", 0, err
		}
		switch num {
		case 1:
			name, err = r.string(typ)
		case 2:
			v, err = r.sint(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return "", 0, err
		}
	}
	return name, v, nil
}

func unmarshalRecord(b []byte) (dataset.Record, error) {
	var id, values []byte
	r := &fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return dataset.Record{}, err
		}
		switch num {
		case 1:
			id, err = r.bytes(typ)
		case 2:
			values, err = r.bytes(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return dataset.Record{}, err
		}
	}
	return dataset.UnmarshalRecord(id, values)
}

func marshalDataset(ds dataset.Dataset) []byte {
	var b []byte
	b = appendBytes(b, 1, ds.ID)
	b = appendSint(b, 2, ds.UserID)
	b = appendString(b, 3, ds.Name)
	b = appendBytes(b, 4, dataset.MarshalSchema(ds.Schema))
	b = appendBool(b, 5, ds.Private)
	b = appendBool(b, 6, ds.Frozen)
	if !ds.Created.IsZero() {
		b = appendSint(b, 7, ds.Created.UnixNano())
	}
	b = appendString(b, 8, ds.Username)
	b = appendString(b, 9, ds.Email)
	return b
}

func unmarshalDataset(b []byte) (dataset.Dataset, error) {
	var ds dataset.Dataset
	r := &fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return ds, err
		}
		switch num {
		case 1:
			ds.ID, err = r.bytes(typ)
		case 2:
			ds.UserID, err = r.sint(typ)
		case 3:
			ds.Name, err = r.string(typ)
		case 4:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				ds.Schema, err = dataset.UnmarshalSchema(e)
			}
		case 5:
			ds.Private, err = r.bool(typ)
		case 6:
			ds.Frozen, err = r.bool(typ)
		case 7:
			var ns int64
			if ns, err = r.sint(typ); err == nil {
				ds.Created = time.Unix(0, ns).UTC()
			}
		case 8:
			ds.Username, err = r.string(typ)
		case 9:
			ds.Email, err = r.string(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return ds, err
		}
	}
	if ds.Schema == nil {
		ds.Schema = dataset.Schema{}
	}
	return ds, nil
}

func marshalSummary(s *summary.Summary) []byte {
	var b []byte
	b = appendBytes(b, 1, s.DatasetID)
	b = appendVarint(b, 2, s.NumRecords)
	for _, f := range s.Features {
		var e []byte
		e = appendString(e, 1, f.Name)
		e = appendVarint(e, 2, uint64(f.Type))
		e = appendVarint(e, 3, f.NumValues)
		e = appendVarint(e, 4, f.NumMissing)
		e = appendDouble(e, 5, f.Mean)
		e = appendDouble(e, 6, f.M2)
		e = appendDouble(e, 7, f.Min)
		e = appendDouble(e, 8, f.Max)
		for value, count := range f.Histogram {
			var h []byte
			h = appendString(h, 1, value)
			h = appendVarint(h, 2, count)
			e = appendBytes(e, 9, h)
		}
		b = appendBytes(b, 3, e)
	}
	return b
}

func unmarshalSummary(b []byte) (*summary.Summary, error) {
	s := &summary.Summary{}
	r := &fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			s.DatasetID, err = r.bytes(typ)
		case 2:
			s.NumRecords, err = r.varint(typ)
		case 3:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				var f summary.FeatureSummary
				if f, err = unmarshalFeatureSummary(e); err == nil {
					s.Features = append(s.Features, f)
				}
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func unmarshalFeatureSummary(b []byte) (summary.FeatureSummary, error) {
	var f summary.FeatureSummary
	r := &fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return f, err
		}
		var bits uint64
		switch num {
		case 1:
			f.Name, err = r.string(typ)
		case 2:
			var v uint64
			v, err = r.varint(typ)
			f.Type = dataset.FeatureType(v)
		case 3:
			f.NumValues, err = r.varint(typ)
		case 4:
			f.NumMissing, err = r.varint(typ)
		case 5:
			bits, err = r.fixed64(typ)
			f.Mean = math.Float64frombits(bits)
		case 6:
			bits, err = r.fixed64(typ)
			f.M2 = math.Float64frombits(bits)
		case 7:
			bits, err = r.fixed64(typ)
			f.Min = math.Float64frombits(bits)
		case 8:
			bits, err = r.fixed64(typ)
			f.Max = math.Float64frombits(bits)
		case 9:
			var e []byte
			if e, err = r.bytes(typ); err == nil {
				var value string
				var count uint64
				if value, count, err = unmarshalHistogramEntry(e); err == nil {
					if f.Histogram == nil {
						f.Histogram = make(map[string]uint64)
					}
					f.Histogram[value] = count
				}
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

func unmarshalHistogramEntry(b []byte) (string, uint64, error) {
	var value string
	var count uint64
	r := &fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return "", 0, err
		}
		switch num {
		case 1:
			value, err = r.string(typ)
		case 2:
			count, err = r.varint(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return "", 0, err
		}
	}
	return value, count, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var errWireType = errors.New("unexpected wire type")

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendBytes always writes the field, so that empty but non-nil values survive the round trip.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// fieldReader consumes the fields of one message.
type fieldReader struct {
	b []byte
}

func (r *fieldReader) done() bool {
	return len(r.b) == 0
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return num, typ, nil
}

func (r *fieldReader) varint(typ protowire.Type) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) sint(typ protowire.Type) (int64, error) {
	v, err := r.varint(typ)
	return protowire.DecodeZigZag(v), err
}

func (r *fieldReader) bool(typ protowire.Type) (bool, error) {
	v, err := r.varint(typ)
	return v != 0, err
}

func (r *fieldReader) fixed64(typ protowire.Type) (uint64, error) {
	if typ != protowire.Fixed64Type {
		return 0, errWireType
	}
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

// bytes returns a copy of a length delimited field.
func (r *fieldReader) bytes(typ protowire.Type) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, errWireType
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return append([]byte{}, v...), nil
}

func (r *fieldReader) string(typ protowire.Type) (string, error) {
	if typ != protowire.BytesType {
		return "", errWireType
	}
	v, n := protowire.ConsumeString(r.b)
	if n < 0 {
		return "", protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		return protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return nil
}
