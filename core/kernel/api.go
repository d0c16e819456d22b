package kernel

import (
	"ledgerengine/core/types"
)

// Api is the set of operations available to code running in a call frame.
// Every operation acts on behalf of the current frame.
type Api interface {
	// AllocateNodeId reserves a fresh id. Ids must be allocated before they
	// can be used by CreateNode or Globalize.
	AllocateNodeId(entity types.EntityType) (types.NodeId, error)
	// CreateNode creates a node owned by the current frame. Refs are non-owning
	// references that become visible to any frame that later holds the node.
	CreateNode(id types.NodeId, substates NodeSubstates, refs ...types.NodeId) error
	// DropNode destroys a frame-owned node and returns its content. Children of
	// the node become owned by the frame.
	DropNode(id types.NodeId) (NodeSubstates, error)
	// AttachNode makes a frame-owned node a child of parent. Attaching to a
	// persisted parent persists the child.
	AttachNode(parent, child types.NodeId) error
	// PersistNode moves a frame-owned global node and its children into the
	// store.
	PersistNode(id types.NodeId) error
	// Globalize re-homes a frame-owned internal object at a preallocated global
	// address and persists it.
	Globalize(address, object types.NodeId) error
	NodeExists(id types.NodeId) (bool, error)

	LockSubstate(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, mode LockMode) (LockHandle, error)
	// ReadSubstate returns nil for a missing substate.
	ReadSubstate(handle LockHandle) ([]byte, error)
	// WriteSubstate replaces the value; a nil value deletes the substate.
	WriteSubstate(handle LockHandle, value []byte) error
	DropLock(handle LockHandle) error

	Invoke(inv Invocation) (*Output, error)
	Actor() Actor
	// OuterObject returns the outer object of the current actor.
	OuterObject() (types.NodeId, error)
	CurrentDepth() int
	OwnedNodes() []types.NodeId

	PushToAuthZone(proof types.NodeId) error
	PopFromAuthZone() (types.NodeId, error)
	DrainAuthZone() []types.NodeId
	// AuthZoneSubstates reads a substate from every proof in the current
	// frame's auth zone and its caller's.
	AuthZoneSubstates(partition types.PartitionNumber, key types.SubstateKey) ([][]byte, error)

	EmitLog(level types.LogLevel, message string) error
	EmitEvent(eventType string, attributes map[string]string) error
	ConsumeCost(reason string, units uint64) error
	// LockFee pledges amount from vault to the fee reserve. Only the vault
	// itself may lock fee.
	LockFee(vault, resource types.NodeId, amount types.Decimal, contingent bool) error
}
