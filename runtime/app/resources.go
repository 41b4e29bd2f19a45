package app

import (
	"reflect"
	"sync"

	"github.com/phasorframe/phasor/runtime/errs"
)

// resourceRegistry is a type-keyed heterogeneous map: one value per
// distinct type T, retrievable only by that exact type. Grounded on a
// generalized TTL-map idiom (sync.RWMutex-guarded map, functional-style
// accessors) with the TTL dropped since resources do not expire.
type resourceRegistry struct {
	mu    sync.RWMutex
	items map[reflect.Type]any
}

func newResourceRegistry() *resourceRegistry {
	return &resourceRegistry{items: make(map[reflect.Type]any)}
}

// InsertResource stores v, keyed by its static type. Fails
// errs.ErrResourceAlreadyExists if a value of type T is already present.
func InsertResource[T any](a *App, v T) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	a.resources.mu.Lock()
	defer a.resources.mu.Unlock()
	if _, exists := a.resources.items[t]; exists {
		return errs.ErrResourceAlreadyExists
	}
	a.resources.items[t] = v
	return nil
}

// GetResource returns the stored value of type T. Fails
// errs.ErrResourceNotFound if none is present.
func GetResource[T any](a *App) (T, error) {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	a.resources.mu.RLock()
	defer a.resources.mu.RUnlock()
	v, exists := a.resources.items[t]
	if !exists {
		return zero, errs.ErrResourceNotFound
	}
	return v.(T), nil
}

// ReplaceResource stores v as the resource of type T, inserting it if
// absent and overwriting it otherwise. Used by SubApp bridging, where the
// parent/child resource must be replaceable as bridges are installed.
func ReplaceResource[T any](a *App, v T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	a.resources.mu.Lock()
	defer a.resources.mu.Unlock()
	a.resources.items[t] = v
}
