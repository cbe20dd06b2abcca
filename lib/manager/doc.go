/*
Package manager implements the dataset manager, the core of saltfish.

The manager keeps two stores consistent: the relational metadata store, which is authoritative for
the existence of datasets, and the key-value store, which holds the schema cache and the records.
A dataset is created by inserting its metadata row in a transaction, publishing its schema to the
cache while the transaction is open and committing only after the cache write was verified.
Creating a dataset that already exists with an equal schema is a no-op, so clients can safely retry.

Records are only accepted for datasets that exist in the metadata store and whose schema they match.
*/
package manager
