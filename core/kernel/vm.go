package kernel

import (
	"ledgerengine/core/types"
)

// Actor identifies the code executing in a call frame. Receiver is nil for
// function calls; Outer is nil when the receiver has no outer object.
type Actor struct {
	Receiver  *types.NodeId
	Blueprint types.BlueprintId
	Ident     string
	Outer     *types.NodeId
}

// IsMethod reports whether the actor was invoked on a receiver.
func (a Actor) IsMethod() bool { return a.Receiver != nil }

func (a Actor) String() string {
	if a.Receiver != nil {
		return a.Receiver.Short() + "." + a.Ident
	}
	return a.Blueprint.Name + "::" + a.Ident
}

// Invocation is a request to run a function or method. Owned nodes are moved
// into the callee; Refs are lent; Addresses hand preallocated global addresses
// to the callee.
type Invocation struct {
	Receiver  *types.NodeId
	Blueprint types.BlueprintId
	Ident     string
	Args      []byte
	Owned     []types.NodeId
	Refs      []types.NodeId
	Addresses []types.NodeId
}

// MethodInvocation builds an invocation on receiver.
func MethodInvocation(receiver types.NodeId, ident string, args []byte, owned ...types.NodeId) Invocation {
	return Invocation{Receiver: &receiver, Ident: ident, Args: args, Owned: owned}
}

// FunctionInvocation builds a blueprint function invocation.
func FunctionInvocation(blueprint types.BlueprintId, ident string, args []byte, owned ...types.NodeId) Invocation {
	return Invocation{Blueprint: blueprint, Ident: ident, Args: args, Owned: owned}
}

// Output is the result of an invocation. Owned nodes are moved back to the
// caller.
type Output struct {
	Data  []byte
	Owned []types.NodeId
}

// VM executes invocations. Resolve runs in the caller's frame and identifies
// the actor; Invoke runs in the callee's frame.
type VM interface {
	Resolve(api Api, inv *Invocation) (Actor, error)
	Invoke(api Api, actor Actor, inv *Invocation) (*Output, error)
}

// Costing receives the cost of kernel operations and fee locks.
type Costing interface {
	ConsumeExecution(reason string, units uint64) error
	LockFee(vault, resource types.NodeId, amount types.Decimal, contingent bool) error
}

// NodeDropper disposes of a node still owned by a frame when it returns. It
// runs in the returning frame and must either drop the node or fail.
type NodeDropper func(api Api, node types.NodeId) error

// Costs is the execution cost, in cost units, of each kernel operation.
type Costs struct {
	Invoke         uint64
	CreateNode     uint64
	DropNode       uint64
	MoveNode       uint64
	PersistNode    uint64
	LockSubstate   uint64
	ReadSubstate   uint64
	WriteSubstate  uint64
	PerByte        uint64
	EmitLog        uint64
	EmitEvent      uint64
	AllocateNodeId uint64
}

// DefaultCosts returns the built in cost table.
func DefaultCosts() Costs {
	return Costs{
		Invoke:         500,
		CreateNode:     200,
		DropNode:       100,
		MoveNode:       50,
		PersistNode:    300,
		LockSubstate:   40,
		ReadSubstate:   20,
		WriteSubstate:  40,
		PerByte:        1,
		EmitLog:        50,
		EmitEvent:      100,
		AllocateNodeId: 50,
	}
}
