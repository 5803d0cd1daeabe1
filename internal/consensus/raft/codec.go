package raft

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/i-melnichenko/raftstore/internal/consensus"
)

// Backend buckets used by the store.
var (
	entriesBucket  = []byte("entries")
	metaBucket     = []byte("meta")
	snapshotBucket = []byte("snapshot")
)

// Buckets returns the bucket names a backend must provide for a Store.
func Buckets() [][]byte {
	return [][]byte{entriesBucket, metaBucket, snapshotBucket}
}

const indexKeySize = 8

// indexKey encodes index as a fixed-width big-endian key so that byte order
// matches numeric order.
func indexKey(index uint64) []byte {
	k := make([]byte, indexKeySize)
	binary.BigEndian.PutUint64(k, index)
	return k
}

func keyIndex(key []byte) (uint64, error) {
	if len(key) != indexKeySize {
		return 0, fmt.Errorf("%w: entry key has %d bytes", consensus.ErrCorruption, len(key))
	}
	return binary.BigEndian.Uint64(key), nil
}

// Log records use the protobuf wire format so that every field is tagged and
// unknown fields from newer writers are skipped rather than misread.
const (
	fieldType    protowire.Number = 1
	fieldTerm    protowire.Number = 2
	fieldIndex   protowire.Number = 3
	fieldData    protowire.Number = 4
	fieldContext protowire.Number = 5
	fieldSync    protowire.Number = 6
)

func encodeEntry(e consensus.Entry) []byte {
	b := make([]byte, 0, EntrySize(e)+8)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	b = protowire.AppendTag(b, fieldTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Term)
	b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Index)
	if len(e.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Data)
	}
	if len(e.Context) > 0 {
		b = protowire.AppendTag(b, fieldContext, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Context)
	}
	if e.SyncLog {
		b = protowire.AppendTag(b, fieldSync, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// decodeEntry parses a record. Byte fields are copied: backend slices are only
// valid for the life of the transaction.
func decodeEntry(b []byte) (consensus.Entry, error) {
	var e consensus.Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return consensus.Entry{}, corruptRecord(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldType || num == fieldTerm || num == fieldIndex || num == fieldSync):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return consensus.Entry{}, corruptRecord(protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldType:
				if v > uint64(consensus.EntryConfChangeV2) {
					return consensus.Entry{}, corruptRecord(fmt.Errorf("unknown entry type %d", v))
				}
				e.Type = consensus.EntryType(v)
			case fieldTerm:
				e.Term = v
			case fieldIndex:
				e.Index = v
			case fieldSync:
				e.SyncLog = protowire.DecodeBool(v)
			}
		case typ == protowire.BytesType && (num == fieldData || num == fieldContext):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return consensus.Entry{}, corruptRecord(protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldData {
				e.Data = append([]byte(nil), v...)
			} else {
				e.Context = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return consensus.Entry{}, corruptRecord(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

// decodeRecord decodes the value stored under key and checks that the record
// describes the index it is filed under.
func decodeRecord(key, value []byte) (consensus.Entry, error) {
	index, err := keyIndex(key)
	if err != nil {
		return consensus.Entry{}, err
	}
	e, err := decodeEntry(value)
	if err != nil {
		return consensus.Entry{}, fmt.Errorf("index %d: %w", index, err)
	}
	if e.Index != index {
		return consensus.Entry{}, fmt.Errorf("%w: record at key %d carries index %d", consensus.ErrCorruption, index, e.Index)
	}
	return e, nil
}

func corruptRecord(err error) error {
	return fmt.Errorf("%w: %w", consensus.ErrCorruption, err)
}
