// backend.go - Backend interface and registration
package ml

import (
	"fmt"
	"runtime"
)

// Backend holds named model parameters and creates execution contexts.
type Backend interface {
	// Get returns the parameter with the given name or nil if it does not exist.
	Get(name string) Tensor

	// Names lists all parameter names in load order.
	Names() []string

	NewContext() Context

	// Close frees all memory associated with this backend
	Close()
}

// BackendParams controls how the backend loads and executes models
type BackendParams struct {
	// NumThreads sets the number of threads used by compute kernels
	NumThreads int
}

// Threads returns NumThreads, or the number of CPUs when it is unset.
func (p BackendParams) Threads() int {
	if p.NumThreads > 0 {
		return p.NumThreads
	}
	return runtime.NumCPU()
}

var backends = make(map[string]func(string, BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func(string, BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// NewBackend creates a backend holding the parameters stored at path. An
// empty path creates a backend without parameters.
func NewBackend(path string, params BackendParams) (Backend, error) {
	if backend, ok := backends["cpu"]; ok {
		return backend(path, params)
	}

	return nil, fmt.Errorf("unsupported backend")
}
