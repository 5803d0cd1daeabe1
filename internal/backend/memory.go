package backend

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"
)

const memoryBTreeDegree = 32

type memItem struct {
	key   []byte
	value []byte
}

func memItemLess(a, b memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemoryDB is a DB kept entirely in memory. Each bucket is a copy-on-write
// B-tree; a write transaction works on clones and swaps them in on commit.
type MemoryDB struct {
	mu      sync.RWMutex
	closed  bool
	buckets map[string]*btree.BTreeG[memItem]
	size    int64
	maxSize int64
}

// NewMemory returns an empty in-memory DB with the given buckets.
// maxSize bounds the stored bytes; zero disables the quota.
func NewMemory(maxSize int64, buckets ...[]byte) *MemoryDB {
	m := &MemoryDB{
		buckets: make(map[string]*btree.BTreeG[memItem], len(buckets)),
		maxSize: maxSize,
	}
	for _, name := range buckets {
		m.buckets[string(name)] = btree.NewG(memoryBTreeDegree, memItemLess)
	}
	return m
}

// View implements DB.
func (m *MemoryDB) View(fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTx{trees: m.buckets})
}

// Update implements DB.
func (m *MemoryDB) Update(fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	trees := make(map[string]*btree.BTreeG[memItem], len(m.buckets))
	for name, t := range m.buckets {
		trees[name] = t.Clone()
	}
	tx := &memTx{trees: trees, writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	if m.maxSize > 0 && tx.delta > 0 && m.size+tx.delta > m.maxSize {
		return fmt.Errorf("%w: %d bytes in use, %d pending, limit %d",
			ErrCapacityExceeded, m.size, tx.delta, m.maxSize)
	}

	m.buckets = trees
	m.size += tx.delta
	return nil
}

// Size implements DB.
func (m *MemoryDB) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.size, nil
}

// Close implements DB.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.buckets = nil
	return nil
}

type memTx struct {
	trees    map[string]*btree.BTreeG[memItem]
	writable bool
	delta    int64
}

func (t *memTx) Bucket(name []byte) Bucket {
	tree, ok := t.trees[string(name)]
	if !ok {
		return nil
	}
	return &memBucket{tree: tree, tx: t}
}

type memBucket struct {
	tree *btree.BTreeG[memItem]
	tx   *memTx
}

func (b *memBucket) Get(key []byte) []byte {
	it, ok := b.tree.Get(memItem{key: key})
	if !ok {
		return nil
	}
	return it.value
}

func (b *memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return ErrTxNotWritable
	}
	if len(key) == 0 {
		return fmt.Errorf("backend: empty key")
	}
	it := memItem{
		key:   append([]byte(nil), key...),
		value: append([]byte{}, value...),
	}
	if old, replaced := b.tree.ReplaceOrInsert(it); replaced {
		b.tx.delta -= int64(len(old.key) + len(old.value))
	}
	b.tx.delta += int64(len(it.key) + len(it.value))
	return nil
}

func (b *memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return ErrTxNotWritable
	}
	if old, ok := b.tree.Delete(memItem{key: key}); ok {
		b.tx.delta -= int64(len(old.key) + len(old.value))
	}
	return nil
}

func (b *memBucket) Cursor() Cursor {
	return &memCursor{tree: b.tree}
}

// memCursor walks the tree by re-seeking from the last returned key, so it
// stays valid across deletes made through the same transaction.
type memCursor struct {
	tree *btree.BTreeG[memItem]
	cur  []byte
}

func (c *memCursor) First() ([]byte, []byte) {
	it, ok := c.tree.Min()
	return c.set(it, ok)
}

func (c *memCursor) Last() ([]byte, []byte) {
	it, ok := c.tree.Max()
	return c.set(it, ok)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	var (
		found memItem
		ok    bool
	)
	c.tree.AscendGreaterOrEqual(memItem{key: seek}, func(it memItem) bool {
		found, ok = it, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	var (
		found memItem
		ok    bool
	)
	c.tree.AscendGreaterOrEqual(memItem{key: c.cur}, func(it memItem) bool {
		if bytes.Equal(it.key, c.cur) {
			return true
		}
		found, ok = it, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) set(it memItem, ok bool) ([]byte, []byte) {
	if !ok {
		c.cur = nil
		return nil, nil
	}
	c.cur = it.key
	return it.key, it.value
}
