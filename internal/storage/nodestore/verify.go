package nodestore

import (
	"fmt"
)

// Iterable is anything that can walk its stored nodes.
type Iterable interface {
	ForEach(fn func(*Node) error) error
}

// VerificationResult holds the result of a verification operation.
type VerificationResult struct {
	TotalNodes   int64     // Total number of nodes checked
	Entries      int64     // Number of live entries
	MetaNodes    int64     // Number of meta records
	CorruptNodes int64     // Number of nodes failing a check
	Meta         *Meta     // Flush metadata, when present
	CorruptKeys  []Hash256 // Keys of corrupt nodes (limited by MaxCorruptNodes)
}

// IsValid returns true if no corruption was detected.
func (r *VerificationResult) IsValid() bool {
	return r.CorruptNodes == 0 && r.MetaNodes <= 1
}

// String returns a formatted string representation of the verification result.
func (r *VerificationResult) String() string {
	status := "VALID"
	if !r.IsValid() {
		status = "CORRUPT"
	}
	meta := "none"
	if r.Meta != nil {
		meta = fmt.Sprintf("version %d hash %s", r.Meta.Version, r.Meta.Hash)
	}
	return fmt.Sprintf(`Verification Result: %s
  Total Nodes: %d
  Entries: %d
  Corrupt Nodes: %d
  Last Flush: %s`,
		status,
		r.TotalNodes,
		r.Entries,
		r.CorruptNodes,
		meta)
}

// VerifyOptions holds options for verification operations.
type VerifyOptions struct {
	// StopOnFirstError stops verification when the first error is encountered.
	StopOnFirstError bool

	// MaxCorruptNodes limits the number of corrupt keys collected.
	MaxCorruptNodes int

	// ProgressCallback is called every ProgressInterval nodes. May be nil.
	ProgressCallback func(verified int64)
	ProgressInterval int64
}

// DefaultVerifyOptions returns default verification options.
func DefaultVerifyOptions() *VerifyOptions {
	return &VerifyOptions{
		MaxCorruptNodes:  100,
		ProgressInterval: 10000,
	}
}

// Verify walks every node in src and checks that each one decodes, is well
// formed for its type, is not a persisted tombstone, and was written no later
// than the last flushed version.
func Verify(src Iterable, opts *VerifyOptions) (*VerificationResult, error) {
	if opts == nil {
		opts = DefaultVerifyOptions()
	}

	result := &VerificationResult{}
	var maxEntryVersion uint64
	var newestKey Hash256

	corrupt := func(key Hash256, reason error) error {
		result.CorruptNodes++
		if len(result.CorruptKeys) < opts.MaxCorruptNodes {
			result.CorruptKeys = append(result.CorruptKeys, key)
		}
		if opts.StopOnFirstError {
			return NewError("verify", "", key, reason)
		}
		return nil
	}

	err := src.ForEach(func(node *Node) error {
		result.TotalNodes++
		if opts.ProgressCallback != nil && opts.ProgressInterval > 0 &&
			result.TotalNodes%opts.ProgressInterval == 0 {
			opts.ProgressCallback(result.TotalNodes)
		}

		if err := node.Validate(); err != nil {
			return corrupt(node.Hash, err)
		}
		switch node.Type {
		case NodeTombstone:
			return corrupt(node.Hash, fmt.Errorf("%w: tombstone persisted", ErrDataCorrupt))
		case NodeMeta:
			m, err := DecodeMeta(node)
			if err != nil {
				return corrupt(node.Hash, err)
			}
			result.MetaNodes++
			result.Meta = &m
		case NodeEntry:
			result.Entries++
			if node.Version > maxEntryVersion {
				maxEntryVersion = node.Version
				newestKey = node.Hash
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if result.Entries > 0 && (result.Meta == nil || maxEntryVersion > result.Meta.Version) {
		if err := corrupt(newestKey, fmt.Errorf("%w: entry version %d ahead of last flush", ErrDataCorrupt, maxEntryVersion)); err != nil {
			return result, err
		}
	}
	return result, nil
}
