// Package backend defines the contract every query backend implements and
// the compile-time registry that keys backends by single-letter prefix.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jross/cumin-go/internal/hostset"
)

// Config is the raw per-backend configuration section (the "backends.<name>"
// subsection of the top-level config file), handed to a Constructor. Each
// backend decodes the keys it cares about itself via mapstructure.
type Config map[string]interface{}

// Backend is the contract every query backend implements: parse a query
// string and resolve it into a host set.
type Backend interface {
	Execute(query string) (*hostset.HostSet, error)
}

// Constructor builds a Backend from its configuration section.
type Constructor func(cfg Config) (Backend, error)

// ReservedAliasPrefix is reserved for the alias pseudo-backend and can never
// be claimed by a registered backend.
const ReservedAliasPrefix = 'A'

type registration struct {
	prefix      byte
	name        string
	constructor Constructor
}

// Registry is a process-wide, compile-time table of backend descriptors
// keyed by prefix. Unlike the dynamically-loaded registry this replaces,
// entries are added by explicit Register calls (made from main at
// startup), never by runtime module discovery.
type Registry struct {
	mu   sync.RWMutex
	regs map[byte]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[byte]registration)}
}

// Register adds a backend descriptor. It fails if the prefix is the
// reserved alias prefix, is already claimed, or the constructor is nil.
func (r *Registry) Register(prefix byte, name string, ctor Constructor) error {
	if prefix == ReservedAliasPrefix {
		return fmt.Errorf("backend: prefix %q is reserved for aliases", string(prefix))
	}
	if ctor == nil {
		return fmt.Errorf("backend: %q registered with a nil constructor", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.regs[prefix]; ok {
		return fmt.Errorf("backend: prefix %q already claimed by %q, cannot register %q", string(prefix), existing.name, name)
	}
	r.regs[prefix] = registration{prefix: prefix, name: name, constructor: ctor}
	return nil
}

// Construct builds the backend registered under prefix using cfg.
func (r *Registry) Construct(prefix byte, cfg Config) (Backend, error) {
	r.mu.RLock()
	reg, ok := r.regs[prefix]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: no backend registered for prefix %q", string(prefix))
	}
	return reg.constructor(cfg)
}

// Has reports whether a prefix is registered.
func (r *Registry) Has(prefix byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.regs[prefix]
	return ok
}

// Prefixes returns all registered prefixes in a stable, sorted order.
func (r *Registry) Prefixes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]byte, 0, len(r.regs))
	for p := range r.regs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Name returns the registered name for prefix, if any.
func (r *Registry) Name(prefix byte) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[prefix]
	if !ok {
		return "", false
	}
	return reg.name, true
}
