package nodestore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/LeJamon/vmapd/internal/storage/nodestore/compression"
)

// Stored value layout:
//
//	type(4) | version(8) | createdAt(8) | rawLen(4) | compressed(1) | data
const (
	nodeHeaderSize     = 4 + 8 + 8 + 4 + 1
	minCompressionSize = 128
)

// codec serializes nodes for the on-disk backends.
type codec struct {
	compressor compression.Compressor
	level      int
}

func newCodec(config *Config) (*codec, error) {
	name := "none"
	level := 0
	if config != nil && config.Compressor != "" {
		name = config.Compressor
		level = config.CompressionLevel
	}
	c, err := compression.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompressor, name)
	}
	return &codec{compressor: c, level: level}, nil
}

func (c *codec) encode(node *Node) ([]byte, error) {
	payload := []byte(node.Data)
	compressed := false
	if len(node.Data) > minCompressionSize && c.compressor.Name() != "none" {
		out, err := c.compressor.Compress(node.Data, c.level)
		if err != nil {
			return nil, err
		}
		// Keep the compressed form only for a >10% reduction.
		if out != nil && len(out) < len(node.Data)*9/10 {
			payload = out
			compressed = true
		}
	}

	buf := make([]byte, nodeHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(node.Type))
	binary.LittleEndian.PutUint64(buf[4:12], node.Version)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(node.CreatedAt.UnixNano()))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(node.Data)))
	if compressed {
		buf[24] = 1
	}
	copy(buf[nodeHeaderSize:], payload)
	return buf, nil
}

// decode never aliases value; callers may release the source buffer.
func (c *codec) decode(key Hash256, value []byte) (*Node, error) {
	if len(value) < nodeHeaderSize {
		return nil, fmt.Errorf("%w: value of %d bytes is shorter than the header", ErrDataCorrupt, len(value))
	}
	rawLen := int(binary.LittleEndian.Uint32(value[20:24]))
	payload := value[nodeHeaderSize:]

	var data Blob
	switch value[24] {
	case 0:
		if len(payload) != rawLen {
			return nil, fmt.Errorf("%w: payload %d bytes, header says %d", ErrDataCorrupt, len(payload), rawLen)
		}
		data = make(Blob, rawLen)
		copy(data, payload)
	case 1:
		out, err := c.compressor.Decompress(payload, rawLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataCorrupt, err)
		}
		data = out
	default:
		return nil, fmt.Errorf("%w: unknown compression flag %d", ErrDataCorrupt, value[24])
	}

	return &Node{
		Type:      NodeType(binary.LittleEndian.Uint32(value[0:4])),
		Hash:      key,
		Data:      data,
		Version:   binary.LittleEndian.Uint64(value[4:12]),
		CreatedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(value[12:20]))),
	}, nil
}

func keyFromBytes(b []byte) (Hash256, bool) {
	var h Hash256
	if len(b) != HashSize {
		return h, false
	}
	copy(h[:], b)
	return h, true
}
