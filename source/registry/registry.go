// Package registry holds migration steps written in Go. Each generated step
// file registers itself from an init function:
//
//	func init() {
//		registry.Register("main", migration.Step{...})
//	}
//
// Steps are grouped by namespace (the lower-cased database name) so that one
// database never sees the steps of another.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/root-talis/fluentrun/migration"
	"github.com/root-talis/fluentrun/source"
)

type Registry struct {
	mu    sync.Mutex
	steps map[string][]migration.Step
}

func New() *Registry {
	return &Registry{
		steps: make(map[string][]migration.Step),
	}
}

// Register adds a step to a namespace. Duplicate versions are kept and
// reported when the namespace's source is read.
func (r *Registry) Register(namespace string, step migration.Step) {
	if step.Up == nil {
		panic(fmt.Sprintf("registry: migration %d (%s) has no up step", step.Version, step.Name))
	}

	key := normalize(namespace)
	step.Namespace = key

	r.mu.Lock()
	defer r.mu.Unlock()

	r.steps[key] = append(r.steps[key], step)
}

// Namespaces returns the namespaces that have at least one step.
func (r *Registry) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]string, 0, len(r.steps))
	for namespace := range r.steps {
		result = append(result, namespace)
	}

	return result
}

// Source returns the steps of one namespace.
func (r *Registry) Source(namespace string) source.Source {
	return &namespaceSource{registry: r, namespace: normalize(namespace)}
}

// ---

type namespaceSource struct {
	registry  *Registry
	namespace string
}

func (s *namespaceSource) GetAvailableMigrations() ([]migration.Step, error) {
	s.registry.mu.Lock()
	steps := s.registry.steps[s.namespace]
	s.registry.mu.Unlock()

	result, err := source.Sorted(steps)
	if err != nil {
		return nil, fmt.Errorf("namespace %s: %w", s.namespace, err)
	}

	return result, nil
}

func normalize(namespace string) string {
	return strings.ToLower(strings.TrimSpace(namespace))
}

// ---

var defaultRegistry = New() //nolint:gochecknoglobals

// Register adds a step to the process-wide registry.
func Register(namespace string, step migration.Step) {
	defaultRegistry.Register(namespace, step)
}

// NewSource returns the steps registered process-wide for a namespace.
func NewSource(namespace string) source.Source {
	return defaultRegistry.Source(namespace)
}

func Default() *Registry {
	return defaultRegistry
}
