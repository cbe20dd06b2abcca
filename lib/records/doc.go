/*
Package records stores the records of datasets in the key-value store.

Every dataset owns one bucket named after its id (see BucketName). A record is stored under its
8 byte id, its value is the protobuf encoding of the values (see dataset.MarshalRecord) and it
carries one integer index, IndexName, whose value is drawn uniformly from [0, MaxRandomIndex).
Consumers use this index to read random samples of a dataset with a single range query.

Writes of one call are all-or-nothing: if a single record cannot be written, the records the call
has created are deleted again before the error is returned.
*/
package records
