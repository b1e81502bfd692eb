package gpu

import (
	"fmt"
	"sort"

	"github.com/gogpu/gpucontext"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

// backends holds the compiled-in implementations. Packages register
// themselves from init; absence of a backend is a runtime error.
var backends = gpucontext.NewRegistry[Backend](
	gpucontext.WithPriority(string(BackendVulkan), string(BackendMetal), string(BackendWGPU), string(BackendOpenGL)),
)

// Register makes a backend available under name.
func Register(name BackendType, factory func() Backend) {
	backends.Register(string(name), factory)
	core.LogDebug("registered GPU backend %s", name)
}

// Unregister removes a backend. Mostly useful in tests.
func Unregister(name BackendType) {
	backends.Unregister(string(name))
}

// Available lists the registered backends in name order.
func Available() []BackendType {
	names := backends.Available()
	sort.Strings(names)
	out := make([]BackendType, 0, len(names))
	for _, n := range names {
		out = append(out, BackendType(n))
	}
	return out
}

// newBackend instantiates the requested backend, resolving BackendAuto to
// the best registered one.
func newBackend(name BackendType) (BackendType, Backend, error) {
	if name == BackendAuto || name == "" {
		best := backends.BestName()
		if best == "" {
			return "", nil, fmt.Errorf("no GPU backend compiled in: %w", core.ErrUnsupported)
		}
		name = BackendType(best)
	}
	if !backends.Has(string(name)) {
		return "", nil, fmt.Errorf("backend %q is not available: %w", name, core.ErrUnsupported)
	}
	b := backends.Get(string(name))
	if b == nil {
		return "", nil, fmt.Errorf("backend %q factory returned nothing: %w", name, core.ErrUnsupported)
	}
	return name, b, nil
}

// ResolveBackend returns the backend a context configured with name would
// use, or an empty type when none is compiled in.
func ResolveBackend(name BackendType) BackendType {
	if name != BackendAuto && name != "" {
		return name
	}
	return BackendType(backends.BestName())
}
