// Package cmd implements the command-line interface of saltfish. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the saltfish server
//   - datasets: Commands for datasets and their records (create, put, sample, summary, etc.)
//   - kv: Commands for the raw key-value service (get, put, range, etc.)
//   - util: Shared utilities for command-line processing and benchmarks (internal use)
//
// See saltfish -help for a list of all commands.
package cmd
