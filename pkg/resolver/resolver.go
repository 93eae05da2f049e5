// Package resolver builds the dependency graph over packages and answers
// the three questions the package manager asks before loading: are a
// package's declared dependencies satisfied, is the graph around it
// acyclic, and in what order must packages load.
package resolver

import (
	"github.com/emberforge/ember/pkg/manifest"
	"github.com/emberforge/ember/pkg/version"
)

// ManifestSource is the resolver's view of the rest of the subsystem. The
// package manager implements it: Manifest consults loaded packages first
// and falls back to materializing a scanned package's manifest, so load
// ordering can be computed before anything is loaded. LoadedVersion answers
// only for packages that are actually loaded.
type ManifestSource interface {
	Manifest(name string) (*manifest.Manifest, bool)
	LoadedVersion(name string) (string, bool)
}

// Resolution is the outcome of resolving one package's dependencies. It is
// computed on demand and never persisted.
type Resolution struct {
	Satisfied    bool     `json:"satisfied"`
	Missing      []string `json:"missing"`
	Incompatible []string `json:"incompatible"`
	LoadOrder    []string `json:"loadOrder"`
}

// Resolver answers dependency queries against a manifest source.
type Resolver struct {
	source ManifestSource
}

// New creates a resolver over source.
func New(source ManifestSource) *Resolver {
	return &Resolver{source: source}
}

// CheckDependencies classifies each declared dependency of m as satisfied,
// missing (not loaded) or incompatible (loaded at a version that fails the
// constraint). It never fails: an unknown package simply shows up missing.
func (r *Resolver) CheckDependencies(m *manifest.Manifest) Resolution {
	res := Resolution{
		Missing:      make([]string, 0),
		Incompatible: make([]string, 0),
	}

	for _, dep := range m.Dependencies {
		loadedVersion, ok := r.source.LoadedVersion(dep.Name)
		if !ok {
			res.Missing = append(res.Missing, dep.Name)
			continue
		}
		if !version.IsCompatible(dep.Requirement, loadedVersion) {
			res.Incompatible = append(res.Incompatible, dep.Name)
		}
	}

	res.Satisfied = len(res.Missing) == 0 && len(res.Incompatible) == 0
	return res
}

// HasCircularDependency reports whether name can reach itself through
// dependency edges, including self-dependency and indirect cycles. Nodes
// currently on the DFS stack are tracked separately from fully processed
// ones, so diamonds (a node reached twice via different paths) are not
// misreported as cycles and traversal terminates on any graph shape.
func (r *Resolver) HasCircularDependency(name string) bool {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(string) bool
	visit = func(node string) bool {
		visited[node] = true
		inStack[node] = true

		m, ok := r.source.Manifest(node)
		if ok {
			for _, dep := range m.Dependencies {
				if inStack[dep.Name] {
					return true
				}
				if !visited[dep.Name] && visit(dep.Name) {
					return true
				}
			}
		}

		inStack[node] = false
		return false
	}

	return visit(name)
}

// DependencyOrder returns the load order for name: a post-order DFS
// emission where every dependency appears before its dependents and name
// itself comes last. Ties between independent subtrees follow manifest
// declaration order. Unknown packages still appear in the order so the
// caller can surface them as load failures.
//
// Precondition: the graph reachable from name is acyclic; call
// HasCircularDependency first. On cyclic input the traversal still
// terminates but the result omits back edges.
func (r *Resolver) DependencyOrder(name string) []string {
	visited := make(map[string]bool)
	order := make([]string, 0)

	var visit func(string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		visited[node] = true

		if m, ok := r.source.Manifest(node); ok {
			for _, dep := range m.Dependencies {
				visit(dep.Name)
			}
		}

		order = append(order, node)
	}

	visit(name)
	return order
}

// Resolve combines the dependency check and load order for name into one
// Resolution. An unknown name yields an unsatisfied resolution listing the
// package itself as missing.
func (r *Resolver) Resolve(name string) Resolution {
	m, ok := r.source.Manifest(name)
	if !ok {
		return Resolution{
			Missing:      []string{name},
			Incompatible: make([]string, 0),
			LoadOrder:    make([]string, 0),
		}
	}

	res := r.CheckDependencies(m)
	res.LoadOrder = r.DependencyOrder(name)
	return res
}
