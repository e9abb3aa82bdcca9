package bulkmap

import (
	"sync"
	"sync/atomic"
)

// Registry stores mapping overrides and traversal options keyed by property
// path. Writers copy the current snapshot, so lookups never block and may run
// concurrently with registration. Registrations are append-only.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[registrySnapshot]
}

// registrySnapshot is immutable once published.
type registrySnapshot struct {
	overrides map[pathKey][]Declaration
	options   map[pathKey]PathOptions
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by caches that were
// not given one with WithRegistry.
func DefaultRegistry() *Registry { return defaultRegistry }

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&registrySnapshot{
		overrides: map[pathKey][]Declaration{},
		options:   map[pathKey]PathOptions{},
	})
	return r
}

// Register appends an override for the leaf at path.
func (r *Registry) Register(path Path, d Declaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := &registrySnapshot{
		overrides: make(map[pathKey][]Declaration, len(cur.overrides)+1),
		options:   cur.options,
	}
	for k, v := range cur.overrides {
		next.overrides[k] = v
	}
	k := path.key()
	prev := cur.overrides[k]
	list := make([]Declaration, len(prev), len(prev)+1)
	copy(list, prev)
	next.overrides[k] = append(list, d)
	r.snap.Store(next)
}

// SetOptions sets traversal options for the node at path, merging with any
// options already set (flags are only ever turned on).
func (r *Registry) SetOptions(path Path, o PathOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := &registrySnapshot{
		overrides: cur.overrides,
		options:   make(map[pathKey]PathOptions, len(cur.options)+1),
	}
	for k, v := range cur.options {
		next.options[k] = v
	}
	k := path.key()
	prev := next.options[k]
	next.options[k] = PathOptions{
		NoExpand:    prev.NoExpand || o.NoExpand,
		NoNullCheck: prev.NoNullCheck || o.NoNullCheck,
	}
	r.snap.Store(next)
}

// Lookup returns the overrides registered for a path structurally equal to
// path whose label is label or empty, in registration order.
func (r *Registry) Lookup(label string, path Path) []Declaration {
	all := r.snap.Load().overrides[path.key()]
	if len(all) == 0 {
		return nil
	}
	out := make([]Declaration, 0, len(all))
	for _, d := range all {
		if d.label == "" || d.label == label {
			out = append(out, d)
		}
	}
	return out
}

// Options returns the traversal options registered for path.
func (r *Registry) Options(path Path) PathOptions {
	return r.snap.Load().options[path.key()]
}
