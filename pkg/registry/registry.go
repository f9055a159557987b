// Package registry provides a generic, reader-biased in-memory registry.
//
// Registries back the orchestrator's agent/tool/MCP-server catalogs: reads
// (tool dispatch, catalog resolution) are frequent and must not block each
// other; writes (registration) are rare and brief.
package registry

import (
	"sort"
	"sync"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
)

// Registry is a named collection of items of type T.
type Registry[T any] interface {
	Register(name string, item T) error
	Update(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	ListPage(cursor string, limit int) (items []T, nextCursor string)
	Remove(name string) error
	Count() int
	Clear()
}

// BaseRegistry is a generic, concurrency-safe map keyed by name.
type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewBaseRegistry creates an empty registry.
func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{
		items: make(map[string]T),
	}
}

// Register adds a new item under name. Returns AlreadyExists if name is taken.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return distrierr.New(distrierr.Validation, "name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return distrierr.New(distrierr.AlreadyExists, "item with name '"+name+"' already registered")
	}

	r.items[name] = item
	return nil
}

// Update replaces an existing item, or inserts it if absent.
func (r *BaseRegistry[T]) Update(name string, item T) error {
	if name == "" {
		return distrierr.New(distrierr.Validation, "name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[name] = item
	return nil
}

// Get looks up an item by name.
func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[name]
	return item, exists
}

// List returns every registered item in unspecified order.
func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	return items
}

// ListPage returns a page of items ordered by name, starting strictly after
// cursor (empty cursor starts from the beginning). limit <= 0 means no limit.
// The returned nextCursor is empty when there are no further items.
func (r *BaseRegistry[T]) ListPage(cursor string, limit int) ([]T, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(names, cursor)
		if idx < len(names) && names[idx] == cursor {
			idx++
		}
		start = idx
	}

	if start >= len(names) {
		return nil, ""
	}

	end := len(names)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := make([]T, 0, end-start)
	for _, name := range names[start:end] {
		page = append(page, r.items[name])
	}

	next := ""
	if end < len(names) {
		next = names[end-1]
	}
	return page, next
}

// Remove deletes an item. Returns NotFound if name is absent.
func (r *BaseRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return distrierr.New(distrierr.NotFound, "item '"+name+"' not found")
	}

	delete(r.items, name)
	return nil
}

// Count returns the number of registered items.
func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Clear removes all items.
func (r *BaseRegistry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]T)
}

var _ Registry[int] = (*BaseRegistry[int])(nil)
