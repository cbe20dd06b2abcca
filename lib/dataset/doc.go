// Package dataset contains the data model shared by all saltfish components:
// datasets, their schemas, records and the users owning them.
//
// Besides the plain types, the package provides the validation rules for schemas
// and records and the binary encoding used to store schemas and records in the
// key-value store (protobuf wire format, see codec.go).
package dataset
