package executor

import "sync"

// Registry knows the action types the fleet understands. Unknown types
// still dispatch (the payload is an opaque tagged variant, so new
// endpoint capabilities need no engine change) but are treated as
// non-reentrant, the conservative admission default.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeSpec
}

type TypeSpec struct {
	Name      string
	Reentrant bool // reentrant types may overlap on one device
}

func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]TypeSpec)}
	// Built-in fleet operations.
	r.Register(TypeSpec{Name: "ping", Reentrant: true})
	r.Register(TypeSpec{Name: "collect_inventory", Reentrant: true})
	r.Register(TypeSpec{Name: "run_script", Reentrant: false})
	r.Register(TypeSpec{Name: "install_package", Reentrant: false})
	r.Register(TypeSpec{Name: "restart_service", Reentrant: false})
	r.Register(TypeSpec{Name: "reboot", Reentrant: false})
	return r
}

func (r *Registry) Register(spec TypeSpec) {
	r.mu.Lock()
	r.types[spec.Name] = spec
	r.mu.Unlock()
}

func (r *Registry) Reentrant(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.types[name]
	if !ok {
		return false
	}
	return spec.Reentrant
}
