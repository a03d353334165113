// Package compression holds the payload compressors selectable through the
// node_db.compressor setting. Only entry payloads above a small size are
// compressed; the node header always stays raw.
package compression

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknown is returned by Get for a name nobody registered.
var ErrUnknown = errors.New("unknown compressor")

// Compressor compresses node payloads. Implementations are stateless and
// safe for concurrent use.
type Compressor interface {
	Name() string

	// Compress returns the compressed form of data. A nil slice with a nil
	// error means data did not shrink and should be stored raw.
	Compress(data []byte, level int) ([]byte, error)

	// Decompress inflates data back to exactly size bytes.
	Decompress(data []byte, size int) ([]byte, error)
}

// Factory returns a compressor instance.
type Factory func() Compressor

var (
	mu          sync.RWMutex
	compressors = make(map[string]Factory)
)

// Register adds a compressor under name, replacing any earlier one.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	compressors[name] = factory
}

// Get returns the compressor registered under name.
func Get(name string) (Compressor, error) {
	mu.RLock()
	factory, ok := compressors[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return factory(), nil
}

// Available lists the registered names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(compressors))
	for name := range compressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAvailable reports whether name is registered.
func IsAvailable(name string) bool {
	mu.RLock()
	_, ok := compressors[name]
	mu.RUnlock()
	return ok
}

func init() {
	Register("none", func() Compressor { return &NoCompressor{} })
	Register("lz4", func() Compressor { return &LZ4Compressor{} })
}
