// Package unix provides the Unix domain socket connectors for the base transport, for
// clients running on the same machine as the server. An existing socket file is removed
// before listening.
//
// The default server buffer size is 64 KB.
package unix
