package kernel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerengine/core/types"
	"ledgerengine/storage"
)

type handler func(api Api, inv *Invocation) (*Output, error)

type testVM struct {
	handlers map[string]handler
	outer    *types.NodeId
}

func (vm *testVM) Resolve(_ Api, inv *Invocation) (Actor, error) {
	if _, ok := vm.handlers[inv.Ident]; !ok {
		return Actor{}, fmt.Errorf("%w: no handler %q", ErrInvalidInvocation, inv.Ident)
	}
	return Actor{Receiver: inv.Receiver, Blueprint: inv.Blueprint, Ident: inv.Ident, Outer: vm.outer}, nil
}

func (vm *testVM) Invoke(api Api, actor Actor, inv *Invocation) (*Output, error) {
	return vm.handlers[actor.Ident](api, inv)
}

type countingCosting struct {
	units uint64
	limit uint64
}

var errOutOfUnits = errors.New("out of units")

func (c *countingCosting) ConsumeExecution(_ string, units uint64) error {
	c.units += units
	if c.limit > 0 && c.units > c.limit {
		return errOutOfUnits
	}
	return nil
}

func (c *countingCosting) LockFee(types.NodeId, types.NodeId, types.Decimal, bool) error {
	return nil
}

var testBlueprint = types.BlueprintId{Name: "Test"}

func newTestKernel(t *testing.T, maxDepth int, handlers map[string]handler) *Kernel {
	t.Helper()
	track := NewTrack(storage.NewStore(storage.NewMemDB()))
	k := New(Config{MaxCallDepth: maxDepth, Costs: DefaultCosts()}, track, &testVM{handlers: handlers})
	k.SetIdSeed([]byte(t.Name()))
	return k
}

func createNode(t *testing.T, api Api, entity types.EntityType) types.NodeId {
	t.Helper()
	id, err := api.AllocateNodeId(entity)
	require.NoError(t, err)
	substates := NodeSubstates{}
	substates.Set(types.PartitionMain, types.FieldKey(0), []byte("state"))
	require.NoError(t, api.CreateNode(id, substates))
	return id
}

func newGlobal(t *testing.T, k *Kernel) types.NodeId {
	t.Helper()
	id := createNode(t, k, types.EntityGlobalGenericComponent)
	require.NoError(t, k.PersistNode(id))
	return id
}

func call(receiver types.NodeId, ident string) Invocation {
	return MethodInvocation(receiver, ident, nil)
}

func TestWriteLockExcludesSecondLock(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	component := newGlobal(t, k)

	h, err := k.LockSubstate(component, types.PartitionMain, types.FieldKey(0), LockWrite)
	require.NoError(t, err)
	_, err = k.LockSubstate(component, types.PartitionMain, types.FieldKey(0), LockRead)
	require.ErrorIs(t, err, ErrSubstateLocked)

	require.NoError(t, k.WriteSubstate(h, []byte("updated")))
	require.NoError(t, k.DropLock(h))

	h, err = k.LockSubstate(component, types.PartitionMain, types.FieldKey(0), LockRead)
	require.NoError(t, err)
	value, err := k.ReadSubstate(h)
	require.NoError(t, err)
	require.Equal(t, []byte("updated"), value)
	require.ErrorIs(t, k.WriteSubstate(h, []byte("x")), ErrReadOnlyLock)
}

func TestSameFrameUpgradeRejected(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	component := newGlobal(t, k)

	_, err := k.LockSubstate(component, types.PartitionMain, types.FieldKey(0), LockRead)
	require.NoError(t, err)
	_, err = k.LockSubstate(component, types.PartitionMain, types.FieldKey(0), LockWrite)
	require.ErrorIs(t, err, ErrSubstateLocked)
}

func TestNestedCallIntoWriteLockedNodeFails(t *testing.T) {
	var innerCalled bool
	handlers := map[string]handler{
		"outer": func(api Api, inv *Invocation) (*Output, error) {
			h, err := api.LockSubstate(*inv.Receiver, types.PartitionMain, types.FieldKey(0), LockWrite)
			if err != nil {
				return nil, err
			}
			defer api.DropLock(h)
			return api.Invoke(call(*inv.Receiver, "inner"))
		},
		"inner": func(api Api, inv *Invocation) (*Output, error) {
			innerCalled = true
			return nil, nil
		},
	}
	k := newTestKernel(t, 8, handlers)
	component := newGlobal(t, k)

	_, err := k.Invoke(call(component, "outer"))
	require.ErrorIs(t, err, ErrSubstateLocked)
	require.False(t, innerCalled)
	require.Equal(t, 0, k.CurrentDepth())
	require.Zero(t, k.Locks().Len())
}

func TestNestedReadReentrancyAllowedButNoUpgrade(t *testing.T) {
	handlers := map[string]handler{
		"outer": func(api Api, inv *Invocation) (*Output, error) {
			h, err := api.LockSubstate(*inv.Receiver, types.PartitionMain, types.FieldKey(0), LockRead)
			if err != nil {
				return nil, err
			}
			defer api.DropLock(h)
			return api.Invoke(MethodInvocation(*inv.Receiver, "inner", inv.Args))
		},
		"inner": func(api Api, inv *Invocation) (*Output, error) {
			mode := LockRead
			if string(inv.Args) == "write" {
				mode = LockWrite
			}
			h, err := api.LockSubstate(*inv.Receiver, types.PartitionMain, types.FieldKey(0), mode)
			if err != nil {
				return nil, err
			}
			value, err := api.ReadSubstate(h)
			if err != nil {
				return nil, err
			}
			return &Output{Data: value}, api.DropLock(h)
		},
	}
	k := newTestKernel(t, 8, handlers)
	component := newGlobal(t, k)

	out, err := k.Invoke(MethodInvocation(component, "outer", []byte("read")))
	require.NoError(t, err)
	require.Equal(t, []byte("state"), out.Data)

	_, err = k.Invoke(MethodInvocation(component, "outer", []byte("write")))
	require.ErrorIs(t, err, ErrSubstateLocked)
}

func TestCallDepthLimit(t *testing.T) {
	var maxSeen int
	handlers := map[string]handler{}
	handlers["recurse"] = func(api Api, inv *Invocation) (*Output, error) {
		if d := api.CurrentDepth(); d > maxSeen {
			maxSeen = d
		}
		if inv.Args[0] == 0 {
			return nil, nil
		}
		return api.Invoke(FunctionInvocation(testBlueprint, "recurse", []byte{inv.Args[0] - 1}))
	}
	k := newTestKernel(t, 3, handlers)

	_, err := k.Invoke(FunctionInvocation(testBlueprint, "recurse", []byte{2}))
	require.NoError(t, err)
	require.Equal(t, 3, maxSeen)

	_, err = k.Invoke(FunctionInvocation(testBlueprint, "recurse", []byte{3}))
	require.ErrorIs(t, err, ErrMaxCallDepthLimitReached)
	require.Equal(t, 0, k.CurrentDepth())
}

func TestMoveRequiresOwnershipAndNoLocks(t *testing.T) {
	handlers := map[string]handler{
		"consume": func(api Api, inv *Invocation) (*Output, error) {
			for _, id := range inv.Owned {
				if _, err := api.DropNode(id); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
		"steal": func(api Api, inv *Invocation) (*Output, error) {
			return &Output{Owned: inv.Refs}, nil
		},
	}
	k := newTestKernel(t, 8, handlers)
	node := createNode(t, k, types.EntityInternalGenericComponent)

	notOwned := types.NewNodeId(types.EntityInternalGenericComponent, []byte("other"), 0)
	_, err := k.Invoke(FunctionInvocation(testBlueprint, "consume", nil, notOwned))
	require.ErrorIs(t, err, ErrOwnership)

	h, err := k.LockSubstate(node, types.PartitionMain, types.FieldKey(0), LockRead)
	require.NoError(t, err)
	_, err = k.Invoke(FunctionInvocation(testBlueprint, "consume", nil, node))
	require.ErrorIs(t, err, ErrOwnership)
	require.NoError(t, k.DropLock(h))

	inv := FunctionInvocation(testBlueprint, "steal", nil)
	inv.Refs = []types.NodeId{node}
	_, err = k.Invoke(inv)
	require.ErrorIs(t, err, ErrOwnership)
	require.Contains(t, k.OwnedNodes(), node)

	_, err = k.Invoke(FunctionInvocation(testBlueprint, "consume", nil, node))
	require.NoError(t, err)
	require.Empty(t, k.OwnedNodes())
	require.NoError(t, k.Finish())
}

func TestCalleeCannotSeeUnpassedNodes(t *testing.T) {
	var target types.NodeId
	handlers := map[string]handler{
		"peek": func(api Api, inv *Invocation) (*Output, error) {
			_, err := api.LockSubstate(target, types.PartitionMain, types.FieldKey(0), LockRead)
			return nil, err
		},
	}
	k := newTestKernel(t, 8, handlers)
	target = createNode(t, k, types.EntityInternalGenericComponent)

	_, err := k.Invoke(FunctionInvocation(testBlueprint, "peek", nil))
	require.ErrorIs(t, err, ErrNodeNotVisible)

	inv := FunctionInvocation(testBlueprint, "peek", nil)
	inv.Refs = []types.NodeId{target}
	_, err = k.Invoke(inv)
	require.NoError(t, err)
}

func TestNodeRefsOnlyLentToCreatorPackage(t *testing.T) {
	var (
		target  types.NodeId
		peekErr error
	)
	handlers := map[string]handler{
		"peek": func(api Api, inv *Invocation) (*Output, error) {
			h, err := api.LockSubstate(target, types.PartitionMain, types.FieldKey(0), LockRead)
			peekErr = err
			if err == nil {
				if err := api.DropLock(h); err != nil {
					return nil, err
				}
			}
			return &Output{Owned: inv.Owned}, nil
		},
	}
	k := newTestKernel(t, 8, handlers)
	target = createNode(t, k, types.EntityInternalGenericComponent)
	holder, err := k.AllocateNodeId(types.EntityInternalGenericComponent)
	require.NoError(t, err)
	require.NoError(t, k.CreateNode(holder, NodeSubstates{}, target))

	foreign := types.BlueprintId{Package: types.NewNodeId(types.EntityGlobalPackage, []byte("foreign"), 0), Name: "Foreign"}
	_, err = k.Invoke(FunctionInvocation(foreign, "peek", nil, holder))
	require.NoError(t, err)
	require.ErrorIs(t, peekErr, ErrNodeNotVisible)
	require.Contains(t, k.OwnedNodes(), holder)

	_, err = k.Invoke(FunctionInvocation(testBlueprint, "peek", nil, holder))
	require.NoError(t, err)
	require.NoError(t, peekErr)
}

func TestCreateNodeRejectsExistingId(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	persisted := newGlobal(t, k)
	k.PreallocateNodeId(persisted)
	err := k.CreateNode(persisted, NodeSubstates{})
	require.ErrorIs(t, err, ErrNodeExists)

	owned := createNode(t, k, types.EntityInternalGenericComponent)
	k.PreallocateNodeId(owned)
	err = k.CreateNode(owned, NodeSubstates{})
	require.ErrorIs(t, err, ErrNodeExists)
	require.Contains(t, k.OwnedNodes(), owned)
}

func TestLockHandleCannotCrossFrames(t *testing.T) {
	var handle LockHandle
	handlers := map[string]handler{
		"use": func(api Api, inv *Invocation) (*Output, error) {
			_, err := api.ReadSubstate(handle)
			return nil, err
		},
	}
	k := newTestKernel(t, 8, handlers)
	component := newGlobal(t, k)
	var err error
	handle, err = k.LockSubstate(component, types.PartitionMain, types.FieldKey(0), LockRead)
	require.NoError(t, err)

	_, err = k.Invoke(FunctionInvocation(testBlueprint, "use", nil))
	require.ErrorIs(t, err, ErrLockNotFound)
}

func TestPersistRejectsLockedChild(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	parent := createNode(t, k, types.EntityGlobalGenericComponent)
	child := createNode(t, k, types.EntityInternalFungibleVault)
	require.NoError(t, k.AttachNode(parent, child))
	require.NotContains(t, k.OwnedNodes(), child)

	h, err := k.LockSubstate(child, types.PartitionMain, types.FieldKey(0), LockRead)
	require.NoError(t, err)
	require.ErrorIs(t, k.PersistNode(parent), ErrCannotPersistPinnedNode)

	require.NoError(t, k.DropLock(h))
	require.NoError(t, k.PersistNode(parent))

	for _, id := range []types.NodeId{parent, child} {
		exists, err := k.Track().NodeExists(id)
		require.NoError(t, err)
		require.True(t, exists)
	}
	owner, ok, err := k.Track().Parent(child)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, parent, owner)
	require.Equal(t, []types.NodeId{parent}, k.Track().NewGlobalNodes())
	require.NoError(t, k.Finish())
}

func TestTransientNodesCannotBePersisted(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	bucket := createNode(t, k, types.EntityTransientFungibleBucket)

	address, err := k.AllocateNodeId(types.EntityGlobalGenericComponent)
	require.NoError(t, err)
	require.ErrorIs(t, k.Globalize(address, bucket), ErrCannotPersistPinnedNode)

	component := createNode(t, k, types.EntityInternalGenericComponent)
	require.ErrorIs(t, k.AttachNode(component, bucket), ErrCannotPersistPinnedNode)

	require.NoError(t, k.Globalize(address, component))
	exists, err := k.NodeExists(address)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = k.NodeExists(component)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGlobalizeRequiresAllocatedAddress(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	component := createNode(t, k, types.EntityInternalGenericComponent)
	address := types.NewNodeId(types.EntityGlobalGenericComponent, []byte("unallocated"), 0)
	require.ErrorIs(t, k.Globalize(address, component), ErrAddressNotAllocated)
}

func TestAttachToPersistedParentPersistsChild(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	parent := newGlobal(t, k)
	child := createNode(t, k, types.EntityInternalKeyValueStore)

	require.NoError(t, k.AttachNode(parent, child))
	exists, err := k.Track().NodeExists(child)
	require.NoError(t, err)
	require.True(t, exists)
	require.Zero(t, k.heap.Len())
}

func TestPanicIsCapturedAtInvocationBoundary(t *testing.T) {
	handlers := map[string]handler{
		"explode": func(api Api, inv *Invocation) (*Output, error) {
			panic("boom")
		},
		"nilmap": func(api Api, inv *Invocation) (*Output, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		},
		"wrapper": func(api Api, inv *Invocation) (*Output, error) {
			return api.Invoke(FunctionInvocation(testBlueprint, "explode", nil))
		},
	}
	k := newTestKernel(t, 8, handlers)

	_, err := k.Invoke(FunctionInvocation(testBlueprint, "explode", nil))
	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "boom", perr.Message)
	require.Contains(t, perr.Location, "kernel_test.go")

	_, err = k.Invoke(FunctionInvocation(testBlueprint, "nilmap", nil))
	require.ErrorAs(t, err, &perr)
	require.Contains(t, perr.Message, "nil map")

	_, err = k.Invoke(FunctionInvocation(testBlueprint, "wrapper", nil))
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 0, k.CurrentDepth())
}

func TestOuterObjectMissingIsTypedError(t *testing.T) {
	handlers := map[string]handler{
		"outer": func(api Api, inv *Invocation) (*Output, error) {
			id, err := api.OuterObject()
			if err != nil {
				return nil, err
			}
			return &Output{Data: id.Bytes()}, nil
		},
	}
	k := newTestKernel(t, 8, handlers)

	_, err := k.Invoke(FunctionInvocation(testBlueprint, "outer", nil))
	require.ErrorIs(t, err, ErrOuterObjectNotFound)
	var kerr *KernelError
	require.ErrorAs(t, err, &kerr)

	outer := types.NewNodeId(types.EntityGlobalFungibleResourceManager, []byte("rm"), 0)
	k.vm.(*testVM).outer = &outer
	out, err := k.Invoke(FunctionInvocation(testBlueprint, "outer", nil))
	require.NoError(t, err)
	require.Equal(t, outer.Bytes(), out.Data)
}

func TestLeftoverNodesAreDroppedOrOrphaned(t *testing.T) {
	handlers := map[string]handler{
		"leak": func(api Api, inv *Invocation) (*Output, error) {
			createNode(t, api, types.EntityTransientFungibleProof)
			return nil, nil
		},
		"give": func(api Api, inv *Invocation) (*Output, error) {
			id := createNode(t, api, types.EntityTransientFungibleBucket)
			return &Output{Owned: []types.NodeId{id}}, nil
		},
	}
	k := newTestKernel(t, 8, handlers)

	_, err := k.Invoke(FunctionInvocation(testBlueprint, "leak", nil))
	require.ErrorIs(t, err, ErrNodeOrphaned)

	var dropped []types.NodeId
	k.SetNodeDropper(func(api Api, node types.NodeId) error {
		dropped = append(dropped, node)
		_, err := api.DropNode(node)
		return err
	})
	_, err = k.Invoke(FunctionInvocation(testBlueprint, "leak", nil))
	require.NoError(t, err)
	require.Len(t, dropped, 1)

	out, err := k.Invoke(FunctionInvocation(testBlueprint, "give", nil))
	require.NoError(t, err)
	require.Len(t, out.Owned, 1)
	require.Equal(t, out.Owned, k.OwnedNodes())
	require.Len(t, dropped, 1)
}

func TestAuthZoneVisibleToCallee(t *testing.T) {
	handlers := map[string]handler{
		"check": func(api Api, inv *Invocation) (*Output, error) {
			values, err := api.AuthZoneSubstates(types.PartitionMain, types.FieldKey(0))
			if err != nil {
				return nil, err
			}
			return &Output{Data: []byte{byte(len(values))}}, nil
		},
	}
	k := newTestKernel(t, 8, handlers)
	proof := createNode(t, k, types.EntityTransientFungibleProof)
	bucket := createNode(t, k, types.EntityTransientFungibleBucket)

	require.ErrorIs(t, k.PushToAuthZone(bucket), ErrInvalidInvocation)
	require.NoError(t, k.PushToAuthZone(proof))

	out, err := k.Invoke(FunctionInvocation(testBlueprint, "check", nil))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, out.Data)

	popped, err := k.PopFromAuthZone()
	require.NoError(t, err)
	require.Equal(t, proof, popped)
	_, err = k.PopFromAuthZone()
	require.ErrorIs(t, err, ErrInvalidInvocation)

	out, err = k.Invoke(FunctionInvocation(testBlueprint, "check", nil))
	require.NoError(t, err)
	require.Equal(t, []byte{0}, out.Data)
}

func TestCostsAreCharged(t *testing.T) {
	k := newTestKernel(t, 8, map[string]handler{
		"noop": func(api Api, inv *Invocation) (*Output, error) { return nil, nil },
	})
	costing := &countingCosting{}
	k.SetCosting(costing)

	_, err := k.Invoke(FunctionInvocation(testBlueprint, "noop", []byte("abc")))
	require.NoError(t, err)
	require.Equal(t, DefaultCosts().Invoke+3*DefaultCosts().PerByte, costing.units)

	costing.limit = costing.units
	_, err = k.Invoke(FunctionInvocation(testBlueprint, "noop", nil))
	require.ErrorIs(t, err, errOutOfUnits)
}

func TestLogsAndEventsAreRecorded(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	require.NoError(t, k.EmitLog(types.LogInfo, "hello"))
	require.NoError(t, k.EmitEvent("Deposit", map[string]string{"amount": "1"}))
	require.Equal(t, []types.LogEntry{{Level: types.LogInfo, Message: "hello"}}, k.Logs())
	require.Len(t, k.Events(), 1)
	require.Equal(t, "Deposit", k.Events()[0].Type)
}

func TestLockFeeOnlyFromVaultActor(t *testing.T) {
	k := newTestKernel(t, 8, nil)
	k.SetCosting(&countingCosting{})
	vault := types.NewNodeId(types.EntityInternalFungibleVault, []byte("vault"), 0)
	err := k.LockFee(vault, types.NodeId{}, types.NewDecimal(1), false)
	require.ErrorIs(t, err, ErrInvalidInvocation)
}
