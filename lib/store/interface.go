package store

import (
	"context"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Factory creates a new store. It is used by the conformance tests and by the
// server to abstract the creation of the store from its implementation.
type Factory func() (IStore, error)

// Indexes maps the name of a secondary integer index to its value for one object.
// By convention the name of an integer index ends in "_int" (e.g. "randomindex_int").
type Indexes map[string]int64

// IStore is the interface for the key-value object store used as schema cache and record store.
//
// Objects live in named buckets. Each object is addressed by an opaque byte key and may carry
// any number of integer secondary indexes that can be queried by range. Buckets are created
// implicitly by the first write.
// Write operations only return an error (nil on success), read operations return the requested
// data along with an error (nil on success). All errors not caused by the context are of type *Error.
type IStore interface {
	// Put inserts or replaces an object. The indexes of a replaced object are replaced as well.
	Put(ctx context.Context, bucket string, key []byte, value []byte, indexes Indexes) error
	// Get returns the value of an object. The boolean return value indicates whether the object was found.
	Get(ctx context.Context, bucket string, key []byte) (value []byte, loaded bool, err error)
	// Has returns whether an object exists.
	Has(ctx context.Context, bucket string, key []byte) (loaded bool, err error)
	// Delete removes an object and its index entries. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket string, key []byte) error
	// IndexRange returns the keys of all objects whose index value lies in [min, max], ordered by
	// index value and then by key. A limit <= 0 returns all matches.
	IndexRange(ctx context.Context, bucket, index string, min, max int64, limit int) (keys [][]byte, err error)
	// Keys returns the keys of all objects in a bucket in ascending byte order.
	Keys(ctx context.Context, bucket string) (keys [][]byte, err error)
	// DeleteBucket removes a bucket with all of its objects. Deleting a missing bucket is not an error.
	DeleteBucket(ctx context.Context, bucket string) error
	// Close releases all resources held by the store. Every later call fails with RetCClosed.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new store error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid arguments (empty bucket, key or index name).
	RetCClosed                          // 3: The store has been closed.
	RetCUnavailable                     // 4: The store could not be reached.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCClosed:
		return "Closed"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Argument checks shared by all implementations
// --------------------------------------------------------------------------

// CheckObject validates the bucket and key of a single object operation.
func CheckObject(bucket string, key []byte) error {
	if bucket == "" {
		return NewError(RetCInvalidOperation, "bucket must not be empty")
	}
	if len(key) == 0 {
		return NewError(RetCInvalidOperation, "key must not be empty")
	}
	return nil
}

// CheckIndexes validates the names of the indexes of an object.
func CheckIndexes(indexes Indexes) error {
	for name := range indexes {
		if name == "" {
			return NewError(RetCInvalidOperation, "index name must not be empty")
		}
	}
	return nil
}
