// Package tcp provides the TCP connectors for the base transport. Server connections use
// keep-alive, Nagle's algorithm is disabled if TCPNoDelay is set.
//
// The default server buffer size is 512 KB.
package tcp
