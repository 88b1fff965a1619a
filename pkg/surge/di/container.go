// Package di implements the per-shard dependency injection container
// (spec.md §4.I). There is no Go precedent for this in the example pack;
// the design is carried over directly from CPVFramework's
// Container/ServiceDescriptor.hpp and ServiceLifetime.hpp, adapted from
// C++ templates to Go's reflect.Type-keyed registry since Go has no
// generic-template service descriptor to mirror 1:1.
package di

import (
	"fmt"
	"reflect"
	"sync"
)

// Lifetime controls how many times a descriptor's factory runs.
type Lifetime int

const (
	// Transient invokes the factory on every Get.
	Transient Lifetime = iota
	// Persistent invokes the factory once per descriptor; every later Get
	// returns a copy of the stored value (see cloneValue).
	Persistent
	// StoragePersistent invokes the factory once per (descriptor, Storage)
	// pair; distinct Storages yield distinct instances.
	StoragePersistent
)

func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Persistent:
		return "persistent"
	case StoragePersistent:
		return "storage-persistent"
	default:
		return "unknown"
	}
}

// Factory builds one instance of a service, given the container (for
// resolving further dependencies) and the per-request Storage.
type Factory func(c *Container, s *Storage) any

// Constructor is the idiomatic analogue of a
// "DependencyTypes = (A, B, C, ...)" declaration: a type that names the
// dependency types its constructor needs and builds itself from the
// resolved values, in order. Register it with RegisterConstructor to get
// recursive constructor injection.
type Constructor interface {
	DependencyTypes() []reflect.Type
	New(deps []any) any
}

// ErrNotRegistered is returned by Get/GetMany when a type has zero
// registrations.
type ErrNotRegistered struct{ Type reflect.Type }

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("di: no service registered for type %s", e.Type)
}

// ErrAmbiguous is returned by Get when a type has more than one
// registration: Get requires exactly one, use GetMany for the rest.
type ErrAmbiguous struct {
	Type  reflect.Type
	Count int
}

func (e *ErrAmbiguous) Error() string {
	return fmt.Sprintf("di: %d services registered for type %s, Get requires exactly one", e.Count, e.Type)
}

// ErrNotCloneable is returned when a Persistent/StoragePersistent service's
// value does not satisfy Cloneable and is not a value type Go can copy
// safely by itself (i.e. it's a pointer, map, slice, chan, func or
// interface holding one of those).
type ErrNotCloneable struct{ Type reflect.Type }

func (e *ErrNotCloneable) Error() string {
	return fmt.Sprintf("di: service type %s is not safely cloneable for its lifetime", e.Type)
}

// Cloneable may be implemented by a service value to control how cached
// instances are copied out on each Get. Types that are plain Go value
// types (structs of value fields, primitives) are considered safe to copy
// by assignment and don't need this.
type Cloneable interface {
	Clone() any
}

type descriptor struct {
	lifetime Lifetime
	factory  Factory

	mu    sync.Mutex
	value any
	has   bool
}

// Container holds, per service type, an ordered list of descriptors. A
// Container is not safe for concurrent mutation across shards by design
// (spec.md §5: the container is per-shard); reads (Get/GetMany) take a
// read lock so concurrent handlers within a shard's single-threaded loop
// never actually contend, but the lock guards against accidental reentrant
// registration from a factory.
type Container struct {
	mu          sync.RWMutex
	descriptors map[reflect.Type][]*descriptor
}

// New returns an empty Container.
func New() *Container {
	return &Container{descriptors: make(map[reflect.Type][]*descriptor)}
}

// Add appends a new descriptor for t. A type may have multiple
// registrations; Get fails if more than one exists, GetMany returns all.
func (c *Container) Add(t reflect.Type, factory Factory, lifetime Lifetime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors[t] = append(c.descriptors[t], &descriptor{lifetime: lifetime, factory: factory})
}

// RegisterConstructor registers a Constructor, resolving its declared
// DependencyTypes from the container (using the same Storage passed to
// Get) before calling New. A dependency type of kind slice (vec<U>) is a
// collection dependency: it dispatches to GetMany(U) and is assembled into
// a []U, unless the slice type itself has a direct registration (a vector
// registered as a single service), in which case that takes precedence.
func (c *Container) RegisterConstructor(t reflect.Type, ctor Constructor, lifetime Lifetime) {
	depTypes := ctor.DependencyTypes()
	c.Add(t, func(cc *Container, s *Storage) any {
		deps := make([]any, len(depTypes))
		for i, dt := range depTypes {
			v, err := cc.resolveDependency(dt, s)
			if err != nil {
				panic(fmt.Sprintf("di: resolving dependency %s for constructor of %s: %v", dt, t, err))
			}
			deps[i] = v
		}
		return ctor.New(deps)
	}, lifetime)
}

// resolveDependency resolves one constructor dependency type, dispatching
// slice-kinded types to GetMany of their element type (spec.md §4.I
// "collection resolution") unless a registration exists for the exact
// slice type itself.
func (c *Container) resolveDependency(dt reflect.Type, s *Storage) (any, error) {
	if dt.Kind() != reflect.Slice {
		return c.Get(dt, s)
	}

	c.mu.RLock()
	_, hasDirect := c.descriptors[dt]
	c.mu.RUnlock()
	if hasDirect {
		return c.Get(dt, s)
	}

	elemType := dt.Elem()
	vals, err := c.GetMany(elemType, s)
	if err != nil {
		return nil, err
	}
	slice := reflect.MakeSlice(dt, len(vals), len(vals))
	for i, v := range vals {
		slice.Index(i).Set(reflect.ValueOf(v))
	}
	return slice.Interface(), nil
}

// Remove removes every descriptor registered for t and returns how many
// were removed. The removed descriptors themselves are not returned.
func (c *Container) Remove(t reflect.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.descriptors[t])
	delete(c.descriptors, t)
	return n
}

// Get resolves exactly one instance of t, failing if zero or more than one
// descriptor is registered.
func (c *Container) Get(t reflect.Type, s *Storage) (any, error) {
	c.mu.RLock()
	ds := c.descriptors[t]
	c.mu.RUnlock()
	switch len(ds) {
	case 0:
		return nil, &ErrNotRegistered{Type: t}
	case 1:
		return c.resolve(ds[0], s)
	default:
		return nil, &ErrAmbiguous{Type: t, Count: len(ds)}
	}
}

// GetMany appends an instance from every registration of t, in
// registration order.
func (c *Container) GetMany(t reflect.Type, s *Storage) ([]any, error) {
	c.mu.RLock()
	ds := append([]*descriptor(nil), c.descriptors[t]...)
	c.mu.RUnlock()
	out := make([]any, 0, len(ds))
	for _, d := range ds {
		v, err := c.resolve(d, s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Container) resolve(d *descriptor, s *Storage) (any, error) {
	switch d.lifetime {
	case Transient:
		return d.factory(c, s), nil
	case Persistent:
		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.has {
			d.value = d.factory(c, s)
			d.has = true
		}
		return cloneValue(d.value)
	case StoragePersistent:
		if s == nil {
			return nil, fmt.Errorf("di: storage-persistent service requires a non-nil Storage")
		}
		return s.getOrCreate(d, func() any { return d.factory(c, s) })
	default:
		return nil, fmt.Errorf("di: unsupported lifetime %v", d.lifetime)
	}
}

// Patch replaces every existing descriptor's factory for t with one that
// invokes the original and then wrap(original_result, container, storage),
// preserving each descriptor's lifetime. Applies to descriptors registered
// before this call only; descriptors registered afterward are unaffected.
func (c *Container) Patch(t reflect.Type, wrap func(original any, c *Container, s *Storage) any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds := c.descriptors[t]
	if len(ds) == 0 {
		return &ErrNotRegistered{Type: t}
	}
	for _, d := range ds {
		orig := d.factory
		d.factory = func(cc *Container, s *Storage) any {
			return wrap(orig(cc, s), cc, s)
		}
		d.has = false
		d.value = nil
	}
	return nil
}

// cloneValue returns the copy of v a Get caller may safely mutate without
// disturbing the descriptor's cached instance. Types implementing Cloneable
// control their own copy. Everything else must be a plain Go value type
// (struct of value fields, primitive, array of those) that Go already
// copies by assignment; a pointer, map, slice, chan, func, or interface
// holding one of those aliases the cached instance instead of copying it,
// so it is rejected with ErrNotCloneable rather than handed out silently.
func cloneValue(v any) (any, error) {
	if cl, ok := v.(Cloneable); ok {
		return cl.Clone(), nil
	}
	if v == nil {
		return nil, nil
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return nil, &ErrNotCloneable{Type: t}
	default:
		return v, nil
	}
}

// Storage is per-request (or per-scope) state for StoragePersistent
// services: the first Get(storage) for a given descriptor computes and
// caches the value in this storage; later Gets with the same storage
// return a copy of the cached value. A fresh Storage per request is what
// gives every request its own scoped singletons.
type Storage struct {
	mu     sync.Mutex
	values map[*descriptor]any
}

// NewStorage returns an empty per-request Storage.
func NewStorage() *Storage {
	return &Storage{values: make(map[*descriptor]any)}
}

func (s *Storage) getOrCreate(d *descriptor, create func() any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[d]; ok {
		return cloneValue(v)
	}
	v := create()
	s.values[d] = v
	return cloneValue(v)
}
