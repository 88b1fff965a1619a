package di

import (
	"reflect"
	"testing"
)

type counter struct{ n int }

// clonableCounter implements Cloneable so it can be cached as a
// Persistent/StoragePersistent pointer-typed service.
type clonableCounter struct{ n int }

func (c *clonableCounter) Clone() any {
	return &clonableCounter{n: c.n}
}

func typeOf[T any]() reflect.Type {
	var v T
	return reflect.TypeOf(v)
}

func TestTransientInvokesFactoryEveryGet(t *testing.T) {
	c := New()
	calls := 0
	c.Add(typeOf[int](), func(*Container, *Storage) any {
		calls++
		return calls
	}, Transient)

	v1, err := c.Get(typeOf[int](), nil)
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := c.Get(typeOf[int](), nil)
	if v1 == v2 {
		t.Fatalf("transient returned same value twice: %v, %v", v1, v2)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestPersistentCachesAfterFirstGet(t *testing.T) {
	c := New()
	calls := 0
	c.Add(typeOf[*clonableCounter](), func(*Container, *Storage) any {
		calls++
		return &clonableCounter{n: calls}
	}, Persistent)

	v1, err := c.Get(typeOf[*clonableCounter](), nil)
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := c.Get(typeOf[*clonableCounter](), nil)
	if v1.(*clonableCounter) == v2.(*clonableCounter) {
		t.Fatal("persistent Get should hand out a fresh clone, not the cached pointer")
	}
	if v1.(*clonableCounter).n != v2.(*clonableCounter).n {
		t.Fatalf("clones diverged: %d != %d", v1.(*clonableCounter).n, v2.(*clonableCounter).n)
	}
	if calls != 1 {
		t.Fatalf("factory called %d times, want 1", calls)
	}
}

func TestPersistentPointerWithoutCloneableFails(t *testing.T) {
	c := New()
	c.Add(typeOf[*counter](), func(*Container, *Storage) any {
		return &counter{n: 1}
	}, Persistent)

	_, err := c.Get(typeOf[*counter](), nil)
	if _, ok := err.(*ErrNotCloneable); !ok {
		t.Fatalf("err = %v, want ErrNotCloneable", err)
	}
}

func TestStoragePersistentScopesPerStorage(t *testing.T) {
	c := New()
	calls := 0
	c.Add(typeOf[*clonableCounter](), func(*Container, *Storage) any {
		calls++
		return &clonableCounter{n: calls}
	}, StoragePersistent)

	s1 := NewStorage()
	s2 := NewStorage()

	a1, _ := c.Get(typeOf[*clonableCounter](), s1)
	a2, _ := c.Get(typeOf[*clonableCounter](), s1)
	b1, _ := c.Get(typeOf[*clonableCounter](), s2)

	if a1.(*clonableCounter).n != a2.(*clonableCounter).n {
		t.Fatal("same storage should reuse instance")
	}
	if a1.(*clonableCounter) == a2.(*clonableCounter) {
		t.Fatal("same storage should still hand out a clone, not the cached pointer")
	}
	if a1.(*clonableCounter).n == b1.(*clonableCounter).n {
		t.Fatal("distinct storages should yield distinct instances")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestStoragePersistentPointerWithoutCloneableFails(t *testing.T) {
	c := New()
	c.Add(typeOf[*counter](), func(*Container, *Storage) any {
		return &counter{n: 1}
	}, StoragePersistent)

	_, err := c.Get(typeOf[*counter](), NewStorage())
	if _, ok := err.(*ErrNotCloneable); !ok {
		t.Fatalf("err = %v, want ErrNotCloneable", err)
	}
}

func TestGetFailsWhenNotRegistered(t *testing.T) {
	c := New()
	_, err := c.Get(typeOf[string](), nil)
	if _, ok := err.(*ErrNotRegistered); !ok {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}

func TestGetFailsWhenAmbiguous(t *testing.T) {
	c := New()
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 1 }, Transient)
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 2 }, Transient)
	_, err := c.Get(typeOf[int](), nil)
	if _, ok := err.(*ErrAmbiguous); !ok {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
}

func TestGetManyPreservesRegistrationOrder(t *testing.T) {
	c := New()
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 1 }, Transient)
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 2 }, Transient)
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 3 }, Transient)

	vs, err := c.GetMany(typeOf[int](), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []any{1, 2, 3}
	if !reflect.DeepEqual(vs, want) {
		t.Fatalf("got %v, want %v", vs, want)
	}
}

func TestPatchWrapsExistingFactory(t *testing.T) {
	c := New()
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 10 }, Transient)

	err := c.Patch(typeOf[int](), func(original any, _ *Container, _ *Storage) any {
		return original.(int) + 1
	})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := c.Get(typeOf[int](), nil)
	if v.(int) != 11 {
		t.Fatalf("patched value = %v, want 11", v)
	}
}

type dbConn struct{ dsn string }
type userRepo struct{ db *dbConn }

func (userRepo) DependencyTypes() []reflect.Type {
	return []reflect.Type{typeOf[*dbConn]()}
}

func (userRepo) New(deps []any) any {
	return &userRepo{db: deps[0].(*dbConn)}
}

func TestRegisterConstructorResolvesDependencies(t *testing.T) {
	c := New()
	c.Add(typeOf[*dbConn](), func(*Container, *Storage) any {
		return &dbConn{dsn: "postgres://test"}
	}, Transient)
	c.RegisterConstructor(typeOf[*userRepo](), userRepo{}, Transient)

	v, err := c.Get(typeOf[*userRepo](), nil)
	if err != nil {
		t.Fatal(err)
	}
	repo := v.(*userRepo)
	if repo.db.dsn != "postgres://test" {
		t.Fatalf("repo.db.dsn = %q", repo.db.dsn)
	}
}

// plugin is registered individually, many times, and gathered into a
// handler's vec<plugin> constructor dependency.
type plugin struct{ name string }

type handlerSet struct {
	id      int
	name    string
	plugins []*plugin
}

func (handlerSet) DependencyTypes() []reflect.Type {
	return []reflect.Type{typeOf[int](), typeOf[string](), typeOf[[]*plugin]()}
}

func (handlerSet) New(deps []any) any {
	return &handlerSet{
		id:      deps[0].(int),
		name:    deps[1].(string),
		plugins: deps[2].([]*plugin),
	}
}

func TestRegisterConstructorResolvesCollectionDependency(t *testing.T) {
	c := New()
	c.Add(typeOf[int](), func(*Container, *Storage) any { return 7 }, Transient)
	c.Add(typeOf[string](), func(*Container, *Storage) any { return "set-a" }, Transient)
	c.Add(typeOf[*plugin](), func(*Container, *Storage) any { return &plugin{name: "auth"} }, Transient)
	c.Add(typeOf[*plugin](), func(*Container, *Storage) any { return &plugin{name: "gzip"} }, Transient)
	c.Add(typeOf[*plugin](), func(*Container, *Storage) any { return &plugin{name: "cache"} }, Transient)

	c.RegisterConstructor(typeOf[*handlerSet](), handlerSet{}, Transient)

	v, err := c.Get(typeOf[*handlerSet](), nil)
	if err != nil {
		t.Fatal(err)
	}
	hs := v.(*handlerSet)
	if hs.id != 7 || hs.name != "set-a" {
		t.Fatalf("scalar deps = %d, %q", hs.id, hs.name)
	}
	if len(hs.plugins) != 3 {
		t.Fatalf("len(plugins) = %d, want 3", len(hs.plugins))
	}
	got := []string{hs.plugins[0].name, hs.plugins[1].name, hs.plugins[2].name}
	want := []string{"auth", "gzip", "cache"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plugins = %v, want %v", got, want)
	}
}

func TestRegisterConstructorSliceDependencyPrefersDirectRegistration(t *testing.T) {
	c := New()
	direct := []*plugin{{name: "bundled"}}
	c.Add(typeOf[[]*plugin](), func(*Container, *Storage) any { return direct }, Transient)
	c.Add(typeOf[*plugin](), func(*Container, *Storage) any { return &plugin{name: "individual"} }, Transient)

	v, err := c.resolveDependency(typeOf[[]*plugin](), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := v.([]*plugin)
	if len(got) != 1 || got[0].name != "bundled" {
		t.Fatalf("got %v, want the directly registered slice", got)
	}
}
