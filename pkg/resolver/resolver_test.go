package resolver

import (
	"reflect"
	"testing"

	"github.com/emberforge/ember/pkg/manifest"
)

// fakeSource is an in-memory ManifestSource. Manifests listed in loaded are
// reported as loaded at their manifest version.
type fakeSource struct {
	manifests map[string]*manifest.Manifest
	loaded    map[string]string
}

func (f *fakeSource) Manifest(name string) (*manifest.Manifest, bool) {
	m, ok := f.manifests[name]
	return m, ok
}

func (f *fakeSource) LoadedVersion(name string) (string, bool) {
	v, ok := f.loaded[name]
	return v, ok
}

func pkg(name, version string, deps ...manifest.Dependency) *manifest.Manifest {
	return &manifest.Manifest{Name: name, Version: version, Dependencies: deps}
}

func dep(name, requirement string) manifest.Dependency {
	return manifest.Dependency{Name: name, Requirement: requirement}
}

func TestCheckDependencies_Satisfied(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"game": pkg("game", "1.0.0", dep("lib-a", ">=1.0.0")),
		},
		loaded: map[string]string{"lib-a": "1.5.0"},
	}
	r := New(source)

	res := r.CheckDependencies(source.manifests["game"])
	if !res.Satisfied {
		t.Errorf("Expected satisfied resolution, got %+v", res)
	}
	if len(res.Missing) != 0 || len(res.Incompatible) != 0 {
		t.Errorf("Expected empty missing/incompatible, got %+v", res)
	}
}

func TestCheckDependencies_Incompatible(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"game": pkg("game", "1.0.0", dep("lib-a", ">=1.0.0")),
		},
		loaded: map[string]string{"lib-a": "0.9.0"},
	}
	r := New(source)

	res := r.CheckDependencies(source.manifests["game"])
	if res.Satisfied {
		t.Error("Expected unsatisfied resolution")
	}
	if !reflect.DeepEqual(res.Incompatible, []string{"lib-a"}) {
		t.Errorf("Expected incompatible [lib-a], got %v", res.Incompatible)
	}
	if len(res.Missing) != 0 {
		t.Errorf("Expected no missing, got %v", res.Missing)
	}
}

func TestCheckDependencies_Missing(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"game": pkg("game", "1.0.0", dep("lib-a", ""), dep("lib-b", ">=2.0")),
		},
		loaded: map[string]string{},
	}
	r := New(source)

	res := r.CheckDependencies(source.manifests["game"])
	if res.Satisfied {
		t.Error("Expected unsatisfied resolution")
	}
	if !reflect.DeepEqual(res.Missing, []string{"lib-a", "lib-b"}) {
		t.Errorf("Expected missing [lib-a lib-b], got %v", res.Missing)
	}
}

func TestHasCircularDependency(t *testing.T) {
	// A -> B -> C -> A
	cyclic := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("b", "")),
			"b": pkg("b", "1.0.0", dep("c", "")),
			"c": pkg("c", "1.0.0", dep("a", "")),
		},
	}
	if !New(cyclic).HasCircularDependency("a") {
		t.Error("Expected cycle a -> b -> c -> a to be detected")
	}

	// A -> B -> C, acyclic
	acyclic := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("b", "")),
			"b": pkg("b", "1.0.0", dep("c", "")),
			"c": pkg("c", "1.0.0"),
		},
	}
	if New(acyclic).HasCircularDependency("a") {
		t.Error("Expected acyclic chain to pass")
	}

	// Self-dependency.
	selfDep := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("a", "")),
		},
	}
	if !New(selfDep).HasCircularDependency("a") {
		t.Error("Expected self-dependency to be detected")
	}
}

func TestHasCircularDependency_DiamondIsNotACycle(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d: d is reached twice but the graph is
	// acyclic.
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("b", ""), dep("c", "")),
			"b": pkg("b", "1.0.0", dep("d", "")),
			"c": pkg("c", "1.0.0", dep("d", "")),
			"d": pkg("d", "1.0.0"),
		},
	}
	if New(source).HasCircularDependency("a") {
		t.Error("Diamond dependency misreported as cycle")
	}
}

func TestDependencyOrder(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("b", "")),
			"b": pkg("b", "1.0.0", dep("c", "")),
			"c": pkg("c", "1.0.0"),
		},
	}

	order := New(source).DependencyOrder("a")
	if !reflect.DeepEqual(order, []string{"c", "b", "a"}) {
		t.Errorf("Expected order [c b a], got %v", order)
	}
}

func TestDependencyOrder_DeclarationOrderTies(t *testing.T) {
	// b and c are independent subtrees of a; declaration order wins.
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("c", ""), dep("b", "")),
			"b": pkg("b", "1.0.0"),
			"c": pkg("c", "1.0.0"),
		},
	}

	order := New(source).DependencyOrder("a")
	if !reflect.DeepEqual(order, []string{"c", "b", "a"}) {
		t.Errorf("Expected declaration order [c b a], got %v", order)
	}
}

func TestDependencyOrder_UnknownDependencyStillListed(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("ghost", "")),
		},
	}

	order := New(source).DependencyOrder("a")
	if !reflect.DeepEqual(order, []string{"ghost", "a"}) {
		t.Errorf("Expected [ghost a], got %v", order)
	}
}

func TestDependencyOrder_TerminatesOnCycle(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"a": pkg("a", "1.0.0", dep("b", "")),
			"b": pkg("b", "1.0.0", dep("a", "")),
		},
	}

	// Precondition violation, but must still terminate.
	order := New(source).DependencyOrder("a")
	if len(order) != 2 {
		t.Errorf("Expected traversal to terminate with 2 nodes, got %v", order)
	}
}

func TestResolve(t *testing.T) {
	source := &fakeSource{
		manifests: map[string]*manifest.Manifest{
			"game":  pkg("game", "1.0.0", dep("lib-a", ">=1.0.0")),
			"lib-a": pkg("lib-a", "1.5.0"),
		},
		loaded: map[string]string{"lib-a": "1.5.0"},
	}

	res := New(source).Resolve("game")
	if !res.Satisfied {
		t.Errorf("Expected satisfied resolution, got %+v", res)
	}
	if !reflect.DeepEqual(res.LoadOrder, []string{"lib-a", "game"}) {
		t.Errorf("Expected load order [lib-a game], got %v", res.LoadOrder)
	}

	unknown := New(source).Resolve("nope")
	if unknown.Satisfied || !reflect.DeepEqual(unknown.Missing, []string{"nope"}) {
		t.Errorf("Expected unknown package to resolve as missing, got %+v", unknown)
	}
}
