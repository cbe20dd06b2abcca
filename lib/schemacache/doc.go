/*
Package schemacache writes dataset schemas to the key-value store, where downstream consumers
(for example the ingestion workers) look them up without querying the relational store.

A schema is only considered published after it has been written and read back unchanged.
The metadata store calls Publish while the dataset row is still uncommitted, so a dataset is never
visible without its cached schema.
*/
package schemacache
