package kernel

import (
	"ledgerengine/core/types"
)

// CallFrame is one entry of the invocation stack. Owned holds the roots of the
// node trees the frame exclusively owns; refs holds nodes it may access but
// does not own.
type CallFrame struct {
	id       uint64
	depth    int
	actor    Actor
	owned    map[types.NodeId]struct{}
	refs     map[types.NodeId]struct{}
	authZone []types.NodeId
}

func newCallFrame(id uint64, depth int, actor Actor) *CallFrame {
	return &CallFrame{
		id:    id,
		depth: depth,
		actor: actor,
		owned: make(map[types.NodeId]struct{}),
		refs:  make(map[types.NodeId]struct{}),
	}
}

func (f *CallFrame) ID() uint64 { return f.id }

func (f *CallFrame) Depth() int { return f.depth }

func (f *CallFrame) Actor() Actor { return f.actor }

func (f *CallFrame) owns(id types.NodeId) bool {
	_, ok := f.owned[id]
	return ok
}

func (f *CallFrame) hasRef(id types.NodeId) bool {
	_, ok := f.refs[id]
	return ok
}

func (f *CallFrame) take(id types.NodeId) {
	delete(f.owned, id)
	f.removeFromAuthZone(id)
}

func (f *CallFrame) give(id types.NodeId) {
	f.owned[id] = struct{}{}
}

func (f *CallFrame) lend(id types.NodeId) {
	f.refs[id] = struct{}{}
}

func (f *CallFrame) ownedNodes() []types.NodeId {
	return sortedIds(f.owned)
}

func (f *CallFrame) inAuthZone(id types.NodeId) bool {
	for _, p := range f.authZone {
		if p == id {
			return true
		}
	}
	return false
}

func (f *CallFrame) removeFromAuthZone(id types.NodeId) {
	for i, p := range f.authZone {
		if p == id {
			f.authZone = append(f.authZone[:i], f.authZone[i+1:]...)
			return
		}
	}
}
