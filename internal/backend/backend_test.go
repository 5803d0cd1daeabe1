package backend

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
)

var testBucket = []byte("test")

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// forEachBackend runs fn against every DB implementation.
func forEachBackend(t *testing.T, maxSize int64, fn func(t *testing.T, db DB)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		db := NewMemory(maxSize, testBucket)
		t.Cleanup(func() { _ = db.Close() })
		fn(t, db)
	})
	t.Run("bolt", func(t *testing.T) {
		t.Parallel()
		db, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"), maxSize, testBucket)
		if err != nil {
			t.Fatalf("OpenBolt() error = %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		fn(t, db)
	})
}

func TestDB_UpdateThenView(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db DB) {
		err := db.Update(func(tx Tx) error {
			b, err := MustBucket(tx, testBucket)
			if err != nil {
				return err
			}
			return b.Put([]byte("k"), []byte("v"))
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		var got []byte
		err = db.View(func(tx Tx) error {
			got = append([]byte(nil), tx.Bucket(testBucket).Get([]byte("k"))...)
			return nil
		})
		if err != nil {
			t.Fatalf("View() error = %v", err)
		}
		if string(got) != "v" {
			t.Fatalf("expected v, got %q", got)
		}
	})
}

func TestDB_UpdateErrorRollsBack(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db DB) {
		boom := errors.New("boom")
		err := db.Update(func(tx Tx) error {
			if err := tx.Bucket(testBucket).Put([]byte("k"), []byte("v")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		_ = db.View(func(tx Tx) error {
			if v := tx.Bucket(testBucket).Get([]byte("k")); v != nil {
				t.Fatalf("expected rollback, found %q", v)
			}
			return nil
		})
	})
}

func TestDB_ViewIsReadOnly(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db DB) {
		err := db.View(func(tx Tx) error {
			return tx.Bucket(testBucket).Put([]byte("k"), []byte("v"))
		})
		if err == nil {
			t.Fatalf("expected write in read-only tx to fail")
		}
	})
}

func TestDB_CursorIteratesInKeyOrder(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 0, func(t *testing.T, db DB) {
		err := db.Update(func(tx Tx) error {
			b := tx.Bucket(testBucket)
			for _, i := range []uint64{5, 1, 300, 42} {
				if err := b.Put(u64(i), []byte{byte(i)}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		_ = db.View(func(tx Tx) error {
			c := tx.Bucket(testBucket).Cursor()

			var got []uint64
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				got = append(got, binary.BigEndian.Uint64(k))
			}
			want := []uint64{1, 5, 42, 300}
			if len(got) != len(want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("expected %v, got %v", want, got)
				}
			}

			if k, _ := c.Last(); binary.BigEndian.Uint64(k) != 300 {
				t.Fatalf("Last(): expected 300, got %d", binary.BigEndian.Uint64(k))
			}
			if k, _ := c.Seek(u64(6)); binary.BigEndian.Uint64(k) != 42 {
				t.Fatalf("Seek(6): expected 42, got %d", binary.BigEndian.Uint64(k))
			}
			if k, _ := c.Seek(u64(301)); k != nil {
				t.Fatalf("Seek(301): expected nil, got %v", k)
			}
			return nil
		})
	})
}

func TestDB_CapacityExceeded(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 64*1024, func(t *testing.T, db DB) {
		big := make([]byte, 128*1024)
		err := db.Update(func(tx Tx) error {
			return tx.Bucket(testBucket).Put([]byte("big"), big)
		})
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("expected ErrCapacityExceeded, got %v", err)
		}

		_ = db.View(func(tx Tx) error {
			if v := tx.Bucket(testBucket).Get([]byte("big")); v != nil {
				t.Fatalf("rejected write must not be visible")
			}
			return nil
		})

		// Deletes never trip the quota.
		err = db.Update(func(tx Tx) error {
			return tx.Bucket(testBucket).Delete([]byte("missing"))
		})
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
	})
}

func TestDB_ClosedReturnsError(t *testing.T) {
	t.Parallel()

	db := NewMemory(0, testBucket)
	_ = db.Close()
	if err := db.View(func(Tx) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMustBucket_Missing(t *testing.T) {
	t.Parallel()

	db := NewMemory(0, testBucket)
	err := db.View(func(tx Tx) error {
		_, err := MustBucket(tx, []byte("nope"))
		return err
	})
	if !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("expected ErrBucketNotFound, got %v", err)
	}
}

func TestBoltDB_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "raft.db")
	db, err := OpenBolt(path, 0, testBucket)
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	if err := db.Update(func(tx Tx) error {
		return tx.Bucket(testBucket).Put([]byte("k"), []byte("v"))
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenBolt(path, 0, testBucket)
	if err != nil {
		t.Fatalf("reopen OpenBolt() error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	_ = reopened.View(func(tx Tx) error {
		if v := tx.Bucket(testBucket).Get([]byte("k")); string(v) != "v" {
			t.Fatalf("expected v after reopen, got %q", v)
		}
		return nil
	})
}

func TestDB_DeletesFreeSpaceAtCapacity(t *testing.T) {
	t.Parallel()

	forEachBackend(t, 256*1024, func(t *testing.T, db DB) {
		value := make([]byte, 1000)
		var stored uint64
		for i := uint64(1); ; i++ {
			err := db.Update(func(tx Tx) error {
				return tx.Bucket(testBucket).Put(u64(i), value)
			})
			if errors.Is(err, ErrCapacityExceeded) {
				break
			}
			if err != nil {
				t.Fatalf("Put(%d) error = %v", i, err)
			}
			stored = i
			if i > 10000 {
				t.Fatal("quota never reached")
			}
		}
		if stored < 100 {
			t.Fatalf("stored %d values before the quota, want at least 100", stored)
		}

		// A transaction that frees more than it writes must go through at the limit.
		err := db.Update(func(tx Tx) error {
			b := tx.Bucket(testBucket)
			for i := uint64(1); i <= 50; i++ {
				if err := b.Delete(u64(i)); err != nil {
					return err
				}
			}
			return b.Put([]byte("meta"), []byte(`{"index":50,"term":1}`))
		})
		if err != nil {
			t.Fatalf("Update() at capacity error = %v", err)
		}

		// Overwriting a value with one of the same size does not grow the store.
		err = db.Update(func(tx Tx) error {
			return tx.Bucket(testBucket).Put(u64(stored), value)
		})
		if err != nil {
			t.Fatalf("overwrite at capacity error = %v", err)
		}
	})
}
