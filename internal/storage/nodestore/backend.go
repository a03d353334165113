package nodestore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BackendFactory builds an unopened backend from a node store config.
type BackendFactory func(config *Config) (Backend, error)

var (
	backendMu        sync.RWMutex
	backendFactories = make(map[string]BackendFactory)
)

// RegisterBackend makes a backend selectable through Config.Backend and the
// node_db.type setting. Registering a name twice replaces the factory.
func RegisterBackend(name string, factory BackendFactory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFactories[name] = factory
}

// CreateBackend builds the backend registered under name. The backend is
// returned closed.
func CreateBackend(name string, config *Config) (Backend, error) {
	backendMu.RLock()
	factory, ok := backendFactories[name]
	backendMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s (have %s)", ErrUnsupportedBackend, name,
			strings.Join(AvailableBackends(), ", "))
	}
	return factory(config)
}

// AvailableBackends returns the registered backend names in sorted order.
func AvailableBackends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()

	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBackendAvailable reports whether name is registered.
func IsBackendAvailable(name string) bool {
	backendMu.RLock()
	_, ok := backendFactories[name]
	backendMu.RUnlock()
	return ok
}

// BackendInfo describes what a backend offers a map family. Snapshots tells
// whether detached views get a point-in-time store view or must copy.
type BackendInfo struct {
	Name            string
	Description     string
	FileDescriptors int
	Persistent      bool
	Compression     bool
	Snapshots       bool
}

// String returns a one-line summary used by vmapd inspect.
func (bi BackendInfo) String() string {
	var features []string
	if bi.Persistent {
		features = append(features, "persistent")
	} else {
		features = append(features, "in-memory")
	}
	if bi.Compression {
		features = append(features, "compression")
	}
	if bi.Snapshots {
		features = append(features, "snapshots")
	}
	return fmt.Sprintf("%s: %s (FDs: %d, Features: %s)",
		bi.Name, bi.Description, bi.FileDescriptors, strings.Join(features, ", "))
}

// BackendWithInfo is implemented by every built-in backend.
type BackendWithInfo interface {
	Backend
	Info() BackendInfo
}

// DescribeBackend returns b's self-description, or a minimal one built from
// its name for backends that do not provide Info.
func DescribeBackend(b Backend) BackendInfo {
	if bi, ok := b.(BackendWithInfo); ok {
		return bi.Info()
	}
	_, snapshots := b.(Snapshotter)
	return BackendInfo{
		Name:            b.Name(),
		FileDescriptors: b.FdRequired(),
		Snapshots:       snapshots,
	}
}

func init() {
	RegisterBackend("pebble", NewPebbleBackend)
	RegisterBackend("leveldb", NewLevelDBBackend)
	RegisterBackend("bbolt", NewBoltBackend)
	RegisterBackend("memory", func(*Config) (Backend, error) { return NewMemoryBackend(), nil })
}
