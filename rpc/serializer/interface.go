package serializer

import "github.com/ValentinKolb/saltfish/rpc/common"

// IRPCSerializer converts messages to bytes and back. Client and server of one service
// must use the same serializer.
type IRPCSerializer interface {
	// Serialize encodes msg
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Callers pass a zero Message.
	Deserialize(b []byte, msg *common.Message) error
}
