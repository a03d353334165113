package nodestore

import (
	"context"
	"encoding/binary"
	"fmt"
)

const metaSize = 8 + HashSize

// MetaKey is the reserved key holding the flush metadata record.
var MetaKey = Hash256FromData([]byte("vmapd/meta"))

// Meta records the version and hash of the last flushed copy.
type Meta struct {
	Version uint64
	Hash    Hash256
}

// Node encodes m as a NodeMeta record stored under MetaKey.
func (m Meta) Node() *Node {
	data := make(Blob, metaSize)
	binary.BigEndian.PutUint64(data[:8], m.Version)
	copy(data[8:], m.Hash[:])
	return NewNode(NodeMeta, MetaKey, data, m.Version)
}

// DecodeMeta parses a NodeMeta record.
func DecodeMeta(node *Node) (Meta, error) {
	if node.Type != NodeMeta || node.Hash != MetaKey || len(node.Data) != metaSize {
		return Meta{}, fmt.Errorf("%w: not a meta record", ErrDataCorrupt)
	}
	var m Meta
	m.Version = binary.BigEndian.Uint64(node.Data[:8])
	copy(m.Hash[:], node.Data[8:])
	return m, nil
}

// ReadMeta returns the flush metadata stored in db. ok is false for a store
// that was never flushed.
func ReadMeta(ctx context.Context, db Database) (m Meta, ok bool, err error) {
	node, err := db.Fetch(ctx, MetaKey)
	if err != nil || node == nil {
		return Meta{}, false, err
	}
	m, err = DecodeMeta(node)
	if err != nil {
		return Meta{}, false, err
	}
	return m, true, nil
}
