package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/pyjion/jit"
)

// DefaultName is the backend used when none is configured.
const DefaultName = "reference"

// Factory creates a backend instance.
type Factory func() jit.Backend

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available to Lookup. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Lookup creates the named backend. An unknown name is an
// ErrBackendUnavailable; there is no fallback.
func Lookup(name string) (jit.Backend, error) {
	if name == "" {
		name = DefaultName
	}
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no backend named %q", jit.ErrBackendUnavailable, name)
	}
	return f(), nil
}

// Names lists the registered backends.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(DefaultName, func() jit.Backend { return NewReference() })
}
