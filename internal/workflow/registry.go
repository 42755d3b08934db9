package workflow

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Registry manages workflow handlers for different migration paths.
type Registry struct {
	handlers map[models.MigrationPath]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a new workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.MigrationPath]Handler),
	}
}

// Register registers a workflow handler under its path.
func (r *Registry) Register(handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := handler.Path()
	if _, exists := r.handlers[path]; exists {
		return fmt.Errorf("workflow handler for %s already registered", path)
	}

	r.handlers[path] = handler
	return nil
}

// Get retrieves the workflow handler for a migration path.
func (r *Registry) Get(path models.MigrationPath) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[path]
	if !exists {
		return nil, fmt.Errorf("no workflow handler registered for %q", path)
	}

	return handler, nil
}

// List returns all registered workflow handlers ordered by path.
func (r *Registry) List() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]Handler, 0, len(r.handlers))
	for _, handler := range r.handlers {
		handlers = append(handlers, handler)
	}
	slices.SortFunc(handlers, func(a, b Handler) int {
		return cmp.Compare(a.Path(), b.Path())
	})
	return handlers
}

// DefaultRegistry returns a registry with the handlers of both paths.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// paths are distinct, so registration cannot fail
	_ = r.Register(NewDirectIndexToolHandler())
	_ = r.Register(NewKnowledgeBaseHandler())
	return r
}
