// Package ids generates the opaque, fixed width identifiers used for datasets and records.
package ids
