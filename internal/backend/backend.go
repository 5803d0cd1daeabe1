// Package backend provides the durable ordered key/value map that the log
// storage engine is built on.
//
// A DB exposes atomic read and read-write transactions over named buckets.
// Keys inside a bucket are kept in byte order, so fixed-width big-endian keys
// iterate in numeric order. Two implementations are provided: a bbolt file
// (OpenBolt) and an in-memory B-tree (NewMemory).
package backend

import (
	"errors"
	"fmt"
)

// DefaultMaxSizeBytes is the default storage quota (1 GiB).
const DefaultMaxSizeBytes = int64(1 << 30)

// ErrCapacityExceeded is returned when a write transaction would grow the
// store past its configured maximum size. Writes are never retried.
var ErrCapacityExceeded = errors.New("backend: storage capacity exceeded")

// ErrBucketNotFound is returned when a transaction references an unknown bucket.
var ErrBucketNotFound = errors.New("backend: bucket not found")

// ErrTxNotWritable is returned when a read-only transaction attempts a write.
var ErrTxNotWritable = errors.New("backend: tx not writable")

// ErrClosed is returned when the DB has been closed.
var ErrClosed = errors.New("backend: db closed")

// DB is a transactional ordered key/value store.
// All methods must be safe for concurrent use.
type DB interface {
	// View runs fn inside a read-only transaction with a consistent
	// point-in-time view of the store.
	View(fn func(Tx) error) error

	// Update runs fn inside a read-write transaction. Either every change made
	// by fn is committed or none is. A non-nil error from fn rolls back.
	Update(fn func(Tx) error) error

	// Size returns the number of bytes currently used by stored data.
	Size() (int64, error)

	// Close releases the underlying resources.
	Close() error
}

// Tx is a transaction handle. It must not be used after fn returns.
type Tx interface {
	// Bucket returns the named bucket or nil if it does not exist.
	Bucket(name []byte) Bucket
}

// Bucket is an ordered collection of key/value pairs.
// Slices returned by Get and cursors are only valid for the life of the transaction.
type Bucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() Cursor
}

// Cursor iterates a bucket in key order. A nil key means no item.
type Cursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}

// MustBucket returns the named bucket or ErrBucketNotFound.
func MustBucket(tx Tx, name []byte) (Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}
	return b, nil
}
