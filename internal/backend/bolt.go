package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltFileMode = 0o600

// BoltDB is a DB backed by a single bbolt file.
type BoltDB struct {
	db      *bolt.DB
	path    string
	maxSize int64
}

// OpenBolt opens (creating if needed) the bbolt file at path and makes sure the
// given buckets exist. maxSize bounds the bytes in use; zero disables the quota.
func OpenBolt(path string, maxSize int64, buckets ...[]byte) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("backend: create data dir: %w", err)
	}

	opts := &bolt.Options{Timeout: time.Second}
	if maxSize > 0 {
		// Reserve the whole quota up front so writers do not remap under readers.
		opts.InitialMmapSize = int(maxSize)
	}
	db, err := bolt.Open(path, boltFileMode, opts)
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", path, err)
	}

	b := &BoltDB{db: db, path: path, maxSize: maxSize}
	if err := b.setupBuckets(buckets); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *BoltDB) setupBuckets(buckets [][]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("backend: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
}

// Path returns the file path of the database.
func (b *BoltDB) Path() string { return b.path }

// View implements DB.
func (b *BoltDB) View(fn func(Tx) error) error {
	return translateBoltErr(b.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	}))
}

// Update implements DB. Only a transaction that grows the stored key/value
// bytes is checked against the quota, so deletes can always free space.
func (b *BoltDB) Update(fn func(Tx) error) error {
	return translateBoltErr(b.db.Update(func(tx *bolt.Tx) error {
		btx := &boltTx{tx: tx, writable: true}
		if err := fn(btx); err != nil {
			return err
		}
		if b.maxSize > 0 && btx.delta > 0 {
			if inUse := b.sizeInUse(tx); inUse+btx.delta > b.maxSize {
				return fmt.Errorf("%w: %d bytes in use, %d pending, limit %d",
					ErrCapacityExceeded, inUse, btx.delta, b.maxSize)
			}
		}
		return nil
	}))
}

// Size implements DB.
func (b *BoltDB) Size() (int64, error) {
	var size int64
	err := b.db.View(func(tx *bolt.Tx) error {
		size = b.sizeInUse(tx)
		return nil
	})
	return size, translateBoltErr(err)
}

// Close implements DB.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) sizeInUse(tx *bolt.Tx) int64 {
	st := b.db.Stats()
	free := int64(st.FreePageN+st.PendingPageN) * int64(b.db.Info().PageSize)
	if n := tx.Size() - free; n > 0 {
		return n
	}
	return 0
}

func translateBoltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

type boltTx struct {
	tx       *bolt.Tx
	writable bool
	// delta is the net change in stored key/value bytes.
	delta int64
}

func (t *boltTx) Bucket(name []byte) Bucket {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil
	}
	return &boltBucket{b: b, tx: t}
}

type boltBucket struct {
	b  *bolt.Bucket
	tx *boltTx
}

func (b *boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b *boltBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return ErrTxNotWritable
	}
	if old := b.b.Get(key); old != nil {
		b.tx.delta -= int64(len(key) + len(old))
	}
	if err := b.b.Put(key, value); err != nil {
		return err
	}
	b.tx.delta += int64(len(key) + len(value))
	return nil
}

func (b *boltBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return ErrTxNotWritable
	}
	old := b.b.Get(key)
	if err := b.b.Delete(key); err != nil {
		return err
	}
	if old != nil {
		b.tx.delta -= int64(len(key) + len(old))
	}
	return nil
}

func (b *boltBucket) Cursor() Cursor { return b.b.Cursor() }
