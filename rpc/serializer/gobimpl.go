package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/pkg/errors"
)

// NewGOBSerializer creates a serializer using Go's gob format. Every message is encoded with
// a fresh encoder, so it carries its own type information.
func NewGOBSerializer() IRPCSerializer {
	return gobSerializerImpl{}
}

type gobSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, errors.Wrapf(err, "gob: serialize %s message", msg.MsgType)
	}
	return buf.Bytes(), nil
}

func (gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(b)).Decode(msg), "gob: deserialize message")
}
