package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/pkg/errors"
)

// NewJSONSerializer creates a serializer producing human readable json. JSON has no
// representation for NaN, so messages carrying records with missing numerical values
// fail to serialize; use the binary or gob serializer for them.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	return b, errors.Wrapf(err, "json: serialize %s message", msg.MsgType)
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	return errors.Wrap(json.Unmarshal(b, msg), "json: deserialize message")
}
