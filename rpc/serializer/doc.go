// Package serializer converts common.Message values to bytes and back. It defines a common
// interface and three implementations that can be selected per client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Protobuf wire format written with protowire. Only present fields
//     are encoded, schemas and records use the same encoding as the key-value store. Unknown
//     fields are skipped, so newer peers can add fields.
//
//   - gobSerializerImpl: Implementation using Go's built-in gob encoding.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging. JSON has
//     no representation for NaN, so records with missing numerical values cannot be sent.
//
// Client and server must use the same serializer. The binary format produces the smallest
// payloads and is the default.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
