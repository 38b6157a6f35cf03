// Package registry implements the capability-typed dependency-injection
// container described in spec §4.1.
//
// It replaces the teacher's package-global provider selection
// (internal/embed/factory.go's globalThermalConfig/globalMLXConfig and
// env-var-driven NewEmbedder switch) with a container whose singletons are
// scoped to its own lifetime: no ambient process globals, overrides are
// test-local, and no module imports another module's concrete type for the
// purpose of wiring (spec §9 "Cyclic dependencies"/"Global state").
package registry

import (
	"fmt"
	"sync"

	cwerrors "github.com/knitli/codeweaver/internal/errors"
)

// Capability names a single-active-provider slot.
type Capability string

const (
	CapabilityDenseEmbedding  Capability = "dense-embedding"
	CapabilitySparseEmbedding Capability = "sparse-embedding"
	CapabilityReranking       Capability = "reranking"
	CapabilityVectorStore     Capability = "vector-store"
	CapabilityTokenizer       Capability = "tokenizer"
)

// Factory constructs a provider instance for a capability. It returns an
// error carrying the missing configuration keys when construction fails
// due to configuration, per spec §4.1's ProviderUnavailable contract.
type Factory func() (any, error)

type variant struct {
	id      string
	factory Factory
}

type slot struct {
	mu       sync.Mutex
	variants map[string]variant
	active   string // variant id currently selected for this capability
	instance any     // memoized singleton, built on first Resolve
	override any     // test-time substitution, takes precedence over instance
	built    bool
}

// Registry is the DI container. Zero value is not usable; use New.
type Registry struct {
	mu    sync.RWMutex
	slots map[Capability]*slot

	// services declared via DeclareService, keyed by name.
	servicesMu sync.Mutex
	services   map[string]*serviceDef
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		slots:    make(map[Capability]*slot),
		services: make(map[string]*serviceDef),
	}
}

func (r *Registry) slotFor(cap Capability) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[cap]
	if !ok {
		s = &slot{variants: make(map[string]variant)}
		r.slots[cap] = s
	}
	return s
}

// Register adds a named variant factory for a capability. If this is the
// first variant registered for the capability, it becomes active.
func (r *Registry) Register(capability Capability, variantID string, factory Factory) {
	s := r.slotFor(capability)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variantID] = variant{id: variantID, factory: factory}
	if s.active == "" {
		s.active = variantID
	}
}

// Activate selects which registered variant is active for a capability.
// Resetting the active variant clears any memoized singleton so the next
// Resolve constructs the newly selected variant.
func (r *Registry) Activate(capability Capability, variantID string) error {
	s := r.slotFor(capability)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[variantID]; !ok {
		return cwerrors.ProviderUnavailable(variantID)
	}
	s.active = variantID
	s.instance = nil
	s.built = false
	return nil
}

// Resolve returns the configured singleton for capability, constructing
// it on first call via the active variant's factory.
func (r *Registry) Resolve(capability Capability) (any, error) {
	s := r.slotFor(capability)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.override != nil {
		return s.override, nil
	}
	if s.built {
		return s.instance, nil
	}
	if s.active == "" {
		return nil, cwerrors.ProviderUnavailable(string(capability)).
			WithMissingKeys("no variant registered for capability")
	}
	v, ok := s.variants[s.active]
	if !ok {
		return nil, cwerrors.ProviderUnavailable(s.active)
	}
	instance, err := v.factory()
	if err != nil {
		return nil, err
	}
	s.instance = instance
	s.built = true
	return instance, nil
}

// Override substitutes a fixed instance for capability, bypassing
// construction entirely. Intended for tests.
func (r *Registry) Override(capability Capability, instance any) {
	s := r.slotFor(capability)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = instance
}

// ClearOverrides removes all test-time overrides across every capability.
func (r *Registry) ClearOverrides() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slots {
		s.mu.Lock()
		s.override = nil
		s.mu.Unlock()
	}
}

// Resolve is a typed convenience wrapper around Registry.Resolve for
// callers that know the concrete interface type they expect.
func Resolve[T any](r *Registry, capability Capability) (T, error) {
	var zero T
	raw, err := r.Resolve(capability)
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, cwerrors.ProviderUnavailable(string(capability)).
			WithMissingKeys(fmt.Sprintf("resolved provider does not implement %T", zero))
	}
	return typed, nil
}

// serviceDef is a declared service: a constructor plus the capabilities
// it depends on, resolved and injected when Build is called.
type serviceDef struct {
	deps        []Capability
	constructor func(deps []any) (any, error)
}

// DeclareService registers a service by name along with its capability
// dependencies, per spec §4.1's declare_service contract. Building the
// service resolves each dependency from the container and passes them,
// in order, to constructor.
func (r *Registry) DeclareService(name string, deps []Capability, constructor func(deps []any) (any, error)) {
	r.servicesMu.Lock()
	defer r.servicesMu.Unlock()
	r.services[name] = &serviceDef{deps: deps, constructor: constructor}
}

// BuildService constructs a previously-declared service, resolving its
// dependencies from the container.
func (r *Registry) BuildService(name string) (any, error) {
	r.servicesMu.Lock()
	def, ok := r.services[name]
	r.servicesMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: no service declared with name %q", name)
	}
	resolved := make([]any, len(def.deps))
	for i, dep := range def.deps {
		instance, err := r.Resolve(dep)
		if err != nil {
			return nil, fmt.Errorf("registry: building service %q: %w", name, err)
		}
		resolved[i] = instance
	}
	return def.constructor(resolved)
}
