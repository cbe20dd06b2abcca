// Package common holds the types shared by the RPC server, the clients and the command line.
//
// Message is a flat union of all requests and responses. MessageType selects which fields are
// meaningful, and one factory function per request and response kind fills them. Dataset
// responses carry a manager.Status; failures of the backends travel as the Err field of a
// MsgTError message.
//
// ServerConfig describes a node: its services, the metadata backend (memory or MySQL), the
// key-value backend (memory, bolt or a remote node) and the dataset manager settings.
// ClientConfig describes how clients reach a node.
//
// InitLoggers installs a dragonboat logger factory with the format
// "LEVEL | component | message" and sets the level of all saltfish components.
package common
