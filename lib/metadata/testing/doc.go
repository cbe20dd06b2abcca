// Package testing provides a conformance test suite for metadata.IStore implementations.
package testing
