package system

import (
	"errors"
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

var ErrTypeInfoNotFound = errors.New("system: type info not found")

var typeInfoKey = types.FieldKey(0)

// TypeInfo is stored with every object and names its blueprint. Outer is the
// object the blueprint is nested in; vaults, buckets and proofs use their
// resource manager.
type TypeInfo struct {
	Blueprint types.BlueprintId
	Outer     *types.NodeId `rlp:"nil"`
}

// ObjectSpec describes an object to create.
type ObjectSpec struct {
	// Id, if set, must already be allocated. Otherwise one is allocated from
	// Entity.
	Id        *types.NodeId
	Entity    types.EntityType
	Blueprint types.BlueprintId
	Outer     *types.NodeId
	// Fields are encoded into the main partition in order.
	Fields []any
	// Extra holds raw substates of additional partitions.
	Extra kernel.NodeSubstates
	Refs  []types.NodeId
}

// NewObject creates an object owned by the current frame.
func NewObject(api kernel.Api, spec ObjectSpec) (types.NodeId, error) {
	var id types.NodeId
	if spec.Id != nil {
		id = *spec.Id
	} else {
		allocated, err := api.AllocateNodeId(spec.Entity)
		if err != nil {
			return types.NodeId{}, err
		}
		id = allocated
	}
	substates := make(kernel.NodeSubstates)
	for partition, entries := range spec.Extra {
		for key, value := range entries {
			substates.Set(partition, key, value)
		}
	}
	info, err := common.Encode(&TypeInfo{Blueprint: spec.Blueprint, Outer: spec.Outer})
	if err != nil {
		return types.NodeId{}, err
	}
	substates.Set(types.PartitionTypeInfo, typeInfoKey, info)
	for i, field := range spec.Fields {
		encoded, err := common.Encode(field)
		if err != nil {
			return types.NodeId{}, err
		}
		substates.Set(types.PartitionMain, types.FieldKey(uint8(i)), encoded)
	}
	if err := api.CreateNode(id, substates, spec.Refs...); err != nil {
		return types.NodeId{}, err
	}
	return id, nil
}

// ReadTypeInfo loads the type info of node.
func ReadTypeInfo(api kernel.Api, node types.NodeId) (TypeInfo, error) {
	h, err := api.LockSubstate(node, types.PartitionTypeInfo, typeInfoKey, kernel.LockRead)
	if err != nil {
		return TypeInfo{}, err
	}
	defer api.DropLock(h)
	raw, err := api.ReadSubstate(h)
	if err != nil {
		return TypeInfo{}, err
	}
	if raw == nil {
		return TypeInfo{}, fmt.Errorf("%w: %s", ErrTypeInfoNotFound, node)
	}
	var info TypeInfo
	if err := common.Decode(raw, &info); err != nil {
		return TypeInfo{}, err
	}
	return info, nil
}

// ReadField decodes main partition field index of node into v.
func ReadField(api kernel.Api, node types.NodeId, index uint8, v any) error {
	h, err := api.LockSubstate(node, types.PartitionMain, types.FieldKey(index), kernel.LockRead)
	if err != nil {
		return err
	}
	defer api.DropLock(h)
	raw, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}
	return common.Decode(raw, v)
}

// WriteField replaces main partition field index of node.
func WriteField(api kernel.Api, node types.NodeId, index uint8, v any) error {
	encoded, err := common.Encode(v)
	if err != nil {
		return err
	}
	h, err := api.LockSubstate(node, types.PartitionMain, types.FieldKey(index), kernel.LockWrite)
	if err != nil {
		return err
	}
	defer api.DropLock(h)
	return api.WriteSubstate(h, encoded)
}

// ModifyField write-locks a field, decodes it into v, runs fn and writes v
// back if fn succeeds. The lock is released on every path.
func ModifyField(api kernel.Api, node types.NodeId, index uint8, v any, fn func() error) error {
	h, err := api.LockSubstate(node, types.PartitionMain, types.FieldKey(index), kernel.LockWrite)
	if err != nil {
		return err
	}
	defer api.DropLock(h)
	raw, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}
	if err := common.Decode(raw, v); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	encoded, err := common.Encode(v)
	if err != nil {
		return err
	}
	return api.WriteSubstate(h, encoded)
}

// Globalize allocates a global address for an object unless one is supplied
// and moves the object there.
func Globalize(api kernel.Api, object types.NodeId, entity types.EntityType, address *types.NodeId) (types.NodeId, error) {
	var target types.NodeId
	if address != nil {
		target = *address
	} else {
		allocated, err := api.AllocateNodeId(entity)
		if err != nil {
			return types.NodeId{}, err
		}
		target = allocated
	}
	if err := api.Globalize(target, object); err != nil {
		return types.NodeId{}, err
	}
	return target, nil
}
