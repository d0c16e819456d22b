package system

import (
	"fmt"
	"sort"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

// BytecodeVM runs blueprints that are not native. Export names are
// "<blueprint>_<ident>".
type BytecodeVM interface {
	Execute(api kernel.Api, actor kernel.Actor, export string, inv *kernel.Invocation) (*kernel.Output, error)
}

// Dispatcher routes invocations to native blueprints, falling back to an
// optional bytecode VM.
type Dispatcher struct {
	registry *Registry
	bytecode BytecodeVM
}

var _ kernel.VM = (*Dispatcher)(nil)

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// SetBytecodeVM installs the VM used for blueprints missing from the registry.
func (d *Dispatcher) SetBytecodeVM(vm BytecodeVM) { d.bytecode = vm }

func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) Resolve(api kernel.Api, inv *kernel.Invocation) (kernel.Actor, error) {
	if inv.Receiver == nil {
		if err := d.checkExport(inv.Blueprint, inv.Ident, false); err != nil {
			return kernel.Actor{}, err
		}
		return kernel.Actor{Blueprint: inv.Blueprint, Ident: inv.Ident}, nil
	}
	receiver := *inv.Receiver
	info, err := ReadTypeInfo(api, receiver)
	if err != nil {
		return kernel.Actor{}, err
	}
	if err := d.checkExport(info.Blueprint, inv.Ident, true); err != nil {
		return kernel.Actor{}, err
	}
	return kernel.Actor{Receiver: &receiver, Blueprint: info.Blueprint, Ident: inv.Ident, Outer: info.Outer}, nil
}

func (d *Dispatcher) checkExport(id types.BlueprintId, ident string, method bool) error {
	bp, ok := d.registry.Lookup(id)
	if !ok {
		if d.bytecode != nil {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrBlueprintNotFound, id)
	}
	if method {
		if _, ok := bp.Methods[ident]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrMethodNotFound, bp.Name, ident)
		}
		return nil
	}
	if _, ok := bp.Functions[ident]; !ok {
		return fmt.Errorf("%w: %s::%s", ErrFunctionNotFound, bp.Name, ident)
	}
	return nil
}

func (d *Dispatcher) Invoke(api kernel.Api, actor kernel.Actor, inv *kernel.Invocation) (*kernel.Output, error) {
	bp, ok := d.registry.Lookup(actor.Blueprint)
	if !ok {
		if d.bytecode == nil {
			return nil, fmt.Errorf("%w: %s", ErrBlueprintNotFound, actor.Blueprint)
		}
		return d.bytecode.Execute(api, actor, actor.Blueprint.Name+"_"+actor.Ident, inv)
	}
	if actor.IsMethod() {
		return bp.Methods[actor.Ident](api, inv)
	}
	return bp.Functions[actor.Ident](api, inv)
}

// PackageBlueprint is the blueprint name recorded in package type info.
const PackageBlueprint = "Package"

// BlueprintDefinition is the published description of a blueprint.
type BlueprintDefinition struct {
	Name      string
	Functions []string
	Methods   []string
}

// PackageDefinition is the main field of a package node.
type PackageDefinition struct {
	Name       string
	Blueprints []BlueprintDefinition
}

// Definition describes the package's exports in a stable order.
func (p *Package) Definition() PackageDefinition {
	def := PackageDefinition{Name: p.Name}
	names := make([]string, 0, len(p.Blueprints))
	for name := range p.Blueprints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bp := p.Blueprints[name]
		def.Blueprints = append(def.Blueprints, BlueprintDefinition{
			Name:      name,
			Functions: sortedKeys(bp.Functions),
			Methods:   sortedKeys(bp.Methods),
		})
	}
	return def
}

func sortedKeys(m map[string]NativeFunc) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PublishPackage persists a package node at its preallocated address.
func PublishPackage(api kernel.Api, pkg *Package) error {
	address := pkg.Address
	id, err := NewObject(api, ObjectSpec{
		Id:        &address,
		Blueprint: types.BlueprintId{Package: pkg.Address, Name: PackageBlueprint},
		Fields:    []any{pkg.Definition()},
	})
	if err != nil {
		return err
	}
	return api.PersistNode(id)
}

// ReadPackageDefinition loads a published package.
func ReadPackageDefinition(api kernel.Api, address types.NodeId) (PackageDefinition, error) {
	var def PackageDefinition
	if err := ReadField(api, address, 0, &def); err != nil {
		return PackageDefinition{}, err
	}
	return def, nil
}

// EncodeOutput is a convenience for native functions returning a value.
func EncodeOutput(v any, owned ...types.NodeId) (*kernel.Output, error) {
	data, err := common.Encode(v)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Data: data, Owned: owned}, nil
}
