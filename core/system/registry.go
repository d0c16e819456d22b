package system

import (
	"errors"
	"fmt"
	"sort"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
)

var (
	ErrBlueprintNotFound = errors.New("system: blueprint not found")
	ErrFunctionNotFound  = errors.New("system: function not found")
	ErrMethodNotFound    = errors.New("system: method not found")
	ErrDuplicatePackage  = errors.New("system: duplicate package")
)

// NativeFunc implements a blueprint function or method in Go.
type NativeFunc func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error)

// Blueprint is a native blueprint definition.
type Blueprint struct {
	Name      string
	Functions map[string]NativeFunc
	Methods   map[string]NativeFunc
}

// Package groups native blueprints under one package address.
type Package struct {
	Name       string
	Address    types.NodeId
	Blueprints map[string]*Blueprint
}

// BlueprintId returns the id of one of the package's blueprints.
func (p *Package) BlueprintId(name string) types.BlueprintId {
	return types.BlueprintId{Package: p.Address, Name: name}
}

// NativePackageAddress derives the fixed address of a native package.
func NativePackageAddress(name string) types.NodeId {
	return types.NewNodeId(types.EntityGlobalPackage, []byte("native-package/"+name), 0)
}

// NewPackage returns an empty native package at its fixed address.
func NewPackage(name string) *Package {
	return &Package{Name: name, Address: NativePackageAddress(name), Blueprints: make(map[string]*Blueprint)}
}

// Add registers a blueprint, replacing one with the same name.
func (p *Package) Add(bp *Blueprint) *Package {
	p.Blueprints[bp.Name] = bp
	return p
}

// Registry is the table of native packages. It is built once when the
// executor is assembled and shared read-only afterwards.
type Registry struct {
	packages map[types.NodeId]*Package
}

func NewRegistry(packages ...*Package) (*Registry, error) {
	r := &Registry{packages: make(map[types.NodeId]*Package, len(packages))}
	for _, pkg := range packages {
		if _, dup := r.packages[pkg.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePackage, pkg.Name)
		}
		r.packages[pkg.Address] = pkg
	}
	return r, nil
}

// Lookup finds a native blueprint.
func (r *Registry) Lookup(id types.BlueprintId) (*Blueprint, bool) {
	pkg, ok := r.packages[id.Package]
	if !ok {
		return nil, false
	}
	bp, ok := pkg.Blueprints[id.Name]
	return bp, ok
}

// Package returns the package at address.
func (r *Registry) Package(address types.NodeId) (*Package, bool) {
	pkg, ok := r.packages[address]
	return pkg, ok
}

// Packages returns every package ordered by name.
func (r *Registry) Packages() []*Package {
	out := make([]*Package, 0, len(r.packages))
	for _, pkg := range r.packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
