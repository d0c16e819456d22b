package kernel

import (
	"sort"

	"ledgerengine/core/types"
)

// LockMode is the access requested on a substate.
type LockMode uint8

const (
	LockRead LockMode = iota + 1
	LockWrite
)

func (m LockMode) String() string {
	switch m {
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	default:
		return "unknown"
	}
}

// LockHandle refers to a held substate lock.
type LockHandle uint32

// Lock is a substate lock held by one call frame.
type Lock struct {
	Handle  LockHandle
	Address types.SubstateAddress
	Mode    LockMode
	Frame   uint64
}

type substateLockState struct {
	readers int
	writer  bool
}

type nodeLockState struct {
	reads  int
	writes int
}

// LockTable tracks every outstanding substate lock of a transaction. A
// conflicting request fails immediately; nothing is queued.
type LockTable struct {
	next      LockHandle
	locks     map[LockHandle]*Lock
	substates map[types.SubstateAddress]*substateLockState
	nodes     map[types.NodeId]*nodeLockState
}

func NewLockTable() *LockTable {
	return &LockTable{
		locks:     make(map[LockHandle]*Lock),
		substates: make(map[types.SubstateAddress]*substateLockState),
		nodes:     make(map[types.NodeId]*nodeLockState),
	}
}

// Acquire registers a lock for frame. A write lock conflicts with any other
// lock on the address; a read lock conflicts with a writer. A frame holding a
// read lock cannot upgrade it.
func (t *LockTable) Acquire(frame uint64, addr types.SubstateAddress, mode LockMode) (LockHandle, error) {
	state := t.substates[addr]
	if state != nil {
		if state.writer || (mode == LockWrite && state.readers > 0) {
			return 0, nodeError(ErrSubstateLocked, addr.Node, "%s lock on %s conflicts with %s", mode, addr, state.describe())
		}
	} else {
		state = &substateLockState{}
		t.substates[addr] = state
	}
	node := t.nodes[addr.Node]
	if node == nil {
		node = &nodeLockState{}
		t.nodes[addr.Node] = node
	}
	if mode == LockWrite {
		state.writer = true
		node.writes++
	} else {
		state.readers++
		node.reads++
	}
	t.next++
	handle := t.next
	t.locks[handle] = &Lock{Handle: handle, Address: addr, Mode: mode, Frame: frame}
	return handle, nil
}

func (s *substateLockState) describe() string {
	if s.writer {
		return "held write lock"
	}
	return "held read lock"
}

// Lookup returns the lock if it exists and belongs to frame.
func (t *LockTable) Lookup(frame uint64, handle LockHandle) (*Lock, error) {
	lock, ok := t.locks[handle]
	if !ok {
		return nil, &KernelError{Kind: ErrLockNotFound, Detail: "unknown handle"}
	}
	if lock.Frame != frame {
		return nil, nodeError(ErrLockNotFound, lock.Address.Node, "handle %d belongs to another call frame", handle)
	}
	return lock, nil
}

// Release drops a lock owned by frame.
func (t *LockTable) Release(frame uint64, handle LockHandle) error {
	lock, err := t.Lookup(frame, handle)
	if err != nil {
		return err
	}
	t.release(lock)
	return nil
}

func (t *LockTable) release(lock *Lock) {
	delete(t.locks, lock.Handle)
	if state := t.substates[lock.Address]; state != nil {
		if lock.Mode == LockWrite {
			state.writer = false
		} else {
			state.readers--
		}
		if !state.writer && state.readers == 0 {
			delete(t.substates, lock.Address)
		}
	}
	if node := t.nodes[lock.Address.Node]; node != nil {
		if lock.Mode == LockWrite {
			node.writes--
		} else {
			node.reads--
		}
		if node.reads == 0 && node.writes == 0 {
			delete(t.nodes, lock.Address.Node)
		}
	}
}

// ReleaseFrame drops every lock held by frame and returns the released
// handles in ascending order.
func (t *LockTable) ReleaseFrame(frame uint64) []LockHandle {
	var released []LockHandle
	for handle, lock := range t.locks {
		if lock.Frame == frame {
			released = append(released, handle)
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	for _, handle := range released {
		t.release(t.locks[handle])
	}
	return released
}

// NodeLocked reports whether any substate of node is locked.
func (t *LockTable) NodeLocked(node types.NodeId) bool {
	_, ok := t.nodes[node]
	return ok
}

// NodeWriteLocked reports whether any substate of node is write locked.
func (t *LockTable) NodeWriteLocked(node types.NodeId) bool {
	state, ok := t.nodes[node]
	return ok && state.writes > 0
}

// Len returns the number of outstanding locks.
func (t *LockTable) Len() int { return len(t.locks) }
