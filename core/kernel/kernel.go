package kernel

import (
	"fmt"
	"log/slog"

	"ledgerengine/core/types"
)

// Config bounds the kernel.
type Config struct {
	// MaxCallDepth is the deepest frame allowed. The root frame has depth 0.
	MaxCallDepth int
	Costs        Costs
	// RootActor identifies the code running in the root frame.
	RootActor Actor
}

// Kernel owns the call-frame stack of one transaction. It is not safe for
// concurrent use; a transaction executes on a single goroutine.
type Kernel struct {
	cfg     Config
	track   *Track
	heap    *Heap
	locks   *LockTable
	vm      VM
	costing Costing
	dropper NodeDropper
	logger  *slog.Logger

	stack     []*CallFrame
	nextFrame uint64

	allocated map[types.NodeId]struct{}
	seed      []byte
	counter   uint64

	logs   []types.LogEntry
	events []types.Event
}

var _ Api = (*Kernel)(nil)

// New returns a kernel with an empty root frame.
func New(cfg Config, track *Track, vm VM) *Kernel {
	k := &Kernel{
		cfg:       cfg,
		track:     track,
		heap:      NewHeap(),
		locks:     NewLockTable(),
		vm:        vm,
		logger:    slog.Default(),
		allocated: make(map[types.NodeId]struct{}),
	}
	k.stack = []*CallFrame{newCallFrame(k.nextFrameID(), 0, cfg.RootActor)}
	return k
}

// SetCosting installs the cost sink. Without one every operation is free.
func (k *Kernel) SetCosting(costing Costing) { k.costing = costing }

// SetNodeDropper installs the callback used to dispose of nodes left in a
// returning frame.
func (k *Kernel) SetNodeDropper(dropper NodeDropper) { k.dropper = dropper }

func (k *Kernel) SetLogger(logger *slog.Logger) {
	if logger != nil {
		k.logger = logger
	}
}

// SetIdSeed sets the seed node ids are derived from. The executor uses the
// transaction hash so ids are stable across replays.
func (k *Kernel) SetIdSeed(seed []byte) {
	k.seed = append([]byte(nil), seed...)
	k.counter = 0
}

// PreallocateNodeId marks a caller chosen id as allocated.
func (k *Kernel) PreallocateNodeId(id types.NodeId) {
	k.allocated[id] = struct{}{}
}

func (k *Kernel) Track() *Track { return k.track }

func (k *Kernel) Locks() *LockTable { return k.locks }

func (k *Kernel) Logs() []types.LogEntry { return append([]types.LogEntry(nil), k.logs...) }

func (k *Kernel) Events() []types.Event { return append([]types.Event(nil), k.events...) }

func (k *Kernel) nextFrameID() uint64 {
	k.nextFrame++
	return k.nextFrame
}

func (k *Kernel) current() *CallFrame { return k.stack[len(k.stack)-1] }

func (k *Kernel) caller() *CallFrame {
	if len(k.stack) < 2 {
		return nil
	}
	return k.stack[len(k.stack)-2]
}

func (k *Kernel) consume(reason string, units uint64) error {
	if k.costing == nil || units == 0 {
		return nil
	}
	return k.costing.ConsumeExecution(reason, units)
}

func (k *Kernel) nodeExists(id types.NodeId) (bool, error) {
	if k.heap.Contains(id) {
		return true, nil
	}
	return k.track.NodeExists(id)
}

func (k *Kernel) parentOf(id types.NodeId) (types.NodeId, bool, error) {
	if n, ok := k.heap.node(id); ok {
		return n.parent, n.hasParent, nil
	}
	return k.track.Parent(id)
}

// visible reports whether frame may access id. A node is visible when it or
// one of its ancestors is owned or borrowed by the frame. Persisted global
// nodes are visible to everyone.
func (k *Kernel) visible(f *CallFrame, id types.NodeId) (bool, error) {
	cur := id
	for {
		if f.owns(cur) || f.hasRef(cur) {
			return true, nil
		}
		parent, ok, err := k.parentOf(cur)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		cur = parent
	}
	if cur == id && id.IsGlobal() && !k.heap.Contains(id) {
		return k.track.NodeExists(id)
	}
	return false, nil
}

func (k *Kernel) checkVisible(f *CallFrame, id types.NodeId) error {
	ok, err := k.visible(f, id)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	exists, err := k.nodeExists(id)
	if err != nil {
		return err
	}
	if !exists {
		return nodeError(ErrNodeNotFound, id, "")
	}
	return nodeError(ErrNodeNotVisible, id, "not reachable from %s", f.actor)
}

func (k *Kernel) subtreeLocked(id types.NodeId) (types.NodeId, bool) {
	for _, n := range k.heap.subtree(id) {
		if k.locks.NodeLocked(n) {
			return n, true
		}
	}
	return types.NodeId{}, false
}

// checkPersistable fails if id or a descendant is transient or locked.
func (k *Kernel) checkPersistable(id types.NodeId) error {
	for _, n := range k.heap.subtree(id) {
		if n.IsTransient() {
			return nodeError(ErrCannotPersistPinnedNode, n, "transient %s cannot be persisted", n.EntityType())
		}
		if k.locks.NodeLocked(n) {
			return nodeError(ErrCannotPersistPinnedNode, n, "node has live locks")
		}
	}
	return nil
}

// persistSubtree writes id and its descendants to the track and removes them
// from the heap.
func (k *Kernel) persistSubtree(id types.NodeId, parent types.NodeId, hasParent bool) error {
	ids := k.heap.subtree(id)
	var written int
	for i, n := range ids {
		node, _ := k.heap.node(n)
		for _, addr := range node.substates.Addresses(n) {
			value, _ := node.substates.Get(addr.Partition, addr.Key)
			k.track.Set(addr, value)
			written += len(value)
		}
		if i == 0 {
			k.track.writeMeta(n, parent, hasParent)
		} else {
			k.track.writeMeta(n, node.parent, node.hasParent)
		}
	}
	for _, n := range ids {
		delete(k.heap.nodes, n)
	}
	if id.IsGlobal() && !hasParent {
		k.track.markGlobal(id)
	}
	k.logger.Debug("node persisted", slog.String("node", id.String()), slog.Int("nodes", len(ids)))
	return k.consume("persist_node", k.cfg.Costs.PersistNode*uint64(len(ids))+k.cfg.Costs.PerByte*uint64(written))
}

func (k *Kernel) AllocateNodeId(entity types.EntityType) (types.NodeId, error) {
	if !entity.Valid() {
		return types.NodeId{}, fmt.Errorf("%w: unknown entity type %d", ErrInvalidInvocation, entity)
	}
	if err := k.consume("allocate_node_id", k.cfg.Costs.AllocateNodeId); err != nil {
		return types.NodeId{}, err
	}
	id := types.NewNodeId(entity, k.seed, k.counter)
	k.counter++
	k.allocated[id] = struct{}{}
	return id, nil
}

func (k *Kernel) CreateNode(id types.NodeId, substates NodeSubstates, refs ...types.NodeId) error {
	f := k.current()
	var size int
	for _, entries := range substates {
		for _, v := range entries {
			size += len(v)
		}
	}
	if err := k.consume("create_node", k.cfg.Costs.CreateNode+k.cfg.Costs.PerByte*uint64(size)); err != nil {
		return err
	}
	if _, ok := k.allocated[id]; !ok {
		return nodeError(ErrAddressNotAllocated, id, "")
	}
	if _, ok := k.heap.node(id); ok {
		return nodeError(ErrNodeExists, id, "")
	}
	if persisted, err := k.track.NodeExists(id); err != nil {
		return err
	} else if persisted {
		return nodeError(ErrNodeExists, id, "")
	}
	if _, ok := substates[types.PartitionKernelMeta]; ok {
		return nodeError(ErrInvalidInvocation, id, "kernel partition is reserved")
	}
	for _, ref := range refs {
		if err := k.checkVisible(f, ref); err != nil {
			return err
		}
	}
	delete(k.allocated, id)
	k.heap.insert(id, substates, refs, f.actor.Blueprint.Package)
	f.give(id)
	return nil
}

func (k *Kernel) DropNode(id types.NodeId) (NodeSubstates, error) {
	f := k.current()
	if err := k.consume("drop_node", k.cfg.Costs.DropNode); err != nil {
		return nil, err
	}
	if !f.owns(id) {
		return nil, nodeError(ErrOwnership, id, "drop by non-owner %s", f.actor)
	}
	if k.locks.NodeLocked(id) {
		return nil, nodeError(ErrSubstateLocked, id, "cannot drop a node with live locks")
	}
	node, children := k.heap.remove(id)
	f.take(id)
	for _, child := range children {
		f.give(child)
	}
	return node.substates, nil
}

func (k *Kernel) AttachNode(parent, child types.NodeId) error {
	f := k.current()
	if err := k.consume("attach_node", k.cfg.Costs.MoveNode); err != nil {
		return err
	}
	if !f.owns(child) {
		return nodeError(ErrOwnership, child, "attach by non-owner %s", f.actor)
	}
	if err := k.checkVisible(f, parent); err != nil {
		return err
	}
	for _, n := range k.heap.subtree(child) {
		if n == parent {
			return nodeError(ErrOwnership, child, "cannot attach a node beneath itself")
		}
	}
	if err := k.checkPersistable(child); err != nil {
		return err
	}
	if k.heap.Contains(parent) {
		f.take(child)
		k.heap.attach(parent, child)
		return nil
	}
	f.take(child)
	return k.persistSubtree(child, parent, true)
}

func (k *Kernel) PersistNode(id types.NodeId) error {
	f := k.current()
	if !f.owns(id) {
		return nodeError(ErrOwnership, id, "persist by non-owner %s", f.actor)
	}
	if err := k.checkPersistable(id); err != nil {
		return err
	}
	if !id.IsGlobal() {
		return nodeError(ErrCannotPersistPinnedNode, id, "internal node must be attached to a global node")
	}
	f.take(id)
	return k.persistSubtree(id, types.NodeId{}, false)
}

func (k *Kernel) Globalize(address, object types.NodeId) error {
	f := k.current()
	if !f.owns(object) {
		return nodeError(ErrOwnership, object, "globalize by non-owner %s", f.actor)
	}
	if err := k.checkPersistable(object); err != nil {
		return err
	}
	if _, ok := k.allocated[address]; !ok || !address.IsGlobal() {
		return nodeError(ErrAddressNotAllocated, address, "not a preallocated global address")
	}
	delete(k.allocated, address)
	f.take(object)
	k.heap.rehome(object, address)
	return k.persistSubtree(address, types.NodeId{}, false)
}

func (k *Kernel) NodeExists(id types.NodeId) (bool, error) {
	return k.nodeExists(id)
}

func (k *Kernel) read(addr types.SubstateAddress) ([]byte, error) {
	if n, ok := k.heap.node(addr.Node); ok {
		v, _ := n.substates.Get(addr.Partition, addr.Key)
		return v, nil
	}
	v, _, err := k.track.Get(addr)
	return v, err
}

func (k *Kernel) LockSubstate(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, mode LockMode) (LockHandle, error) {
	f := k.current()
	if err := k.consume("lock_substate", k.cfg.Costs.LockSubstate); err != nil {
		return 0, err
	}
	if partition == types.PartitionKernelMeta {
		return 0, nodeError(ErrInvalidInvocation, node, "kernel partition is reserved")
	}
	if err := k.checkVisible(f, node); err != nil {
		return 0, err
	}
	addr := types.SubstateAddress{Node: node, Partition: partition, Key: key}
	handle, err := k.locks.Acquire(f.id, addr, mode)
	if err != nil {
		k.logger.Debug("substate lock conflict",
			slog.String("address", addr.String()),
			slog.String("mode", mode.String()),
			slog.Int("depth", f.depth))
		return 0, err
	}
	return handle, nil
}

func (k *Kernel) ReadSubstate(handle LockHandle) ([]byte, error) {
	lock, err := k.locks.Lookup(k.current().id, handle)
	if err != nil {
		return nil, err
	}
	value, err := k.read(lock.Address)
	if err != nil {
		return nil, err
	}
	if err := k.consume("read_substate", k.cfg.Costs.ReadSubstate+k.cfg.Costs.PerByte*uint64(len(value))); err != nil {
		return nil, err
	}
	return append([]byte(nil), value...), nil
}

func (k *Kernel) WriteSubstate(handle LockHandle, value []byte) error {
	lock, err := k.locks.Lookup(k.current().id, handle)
	if err != nil {
		return err
	}
	if lock.Mode != LockWrite {
		return nodeError(ErrReadOnlyLock, lock.Address.Node, "%s", lock.Address)
	}
	if err := k.consume("write_substate", k.cfg.Costs.WriteSubstate+k.cfg.Costs.PerByte*uint64(len(value))); err != nil {
		return err
	}
	addr := lock.Address
	if n, ok := k.heap.node(addr.Node); ok {
		if value == nil {
			n.substates.Delete(addr.Partition, addr.Key)
		} else {
			n.substates.Set(addr.Partition, addr.Key, append([]byte(nil), value...))
		}
		return nil
	}
	if value == nil {
		k.track.Delete(addr)
	} else {
		k.track.Set(addr, value)
	}
	return nil
}

func (k *Kernel) DropLock(handle LockHandle) error {
	return k.locks.Release(k.current().id, handle)
}

// lendNodeRefs lends the refs recorded on id to f when f runs code of the
// package that created id. Holding a node never exposes its refs to
// foreign code.
func (k *Kernel) lendNodeRefs(f *CallFrame, id types.NodeId) {
	n, ok := k.heap.node(id)
	if !ok || n.creator != f.actor.Blueprint.Package {
		return
	}
	for _, ref := range n.refs {
		f.lend(ref)
	}
}

// Invoke runs inv in a new call frame. Owned arguments move into the callee,
// the receiver and refs are lent, and returned nodes move back to the caller.
// Refs recorded on passed nodes follow the rule of lendNodeRefs.
func (k *Kernel) Invoke(inv Invocation) (*Output, error) {
	caller := k.current()
	depth := caller.depth + 1
	if depth > k.cfg.MaxCallDepth {
		return nil, &KernelError{Kind: ErrMaxCallDepthLimitReached, Detail: fmt.Sprintf("depth %d exceeds %d", depth, k.cfg.MaxCallDepth)}
	}
	if err := k.consume("invoke", k.cfg.Costs.Invoke+k.cfg.Costs.PerByte*uint64(len(inv.Args))); err != nil {
		return nil, err
	}
	if inv.Receiver != nil {
		receiver := *inv.Receiver
		if err := k.checkVisible(caller, receiver); err != nil {
			return nil, err
		}
		if k.locks.NodeWriteLocked(receiver) {
			return nil, nodeError(ErrSubstateLocked, receiver, "reentrant call into a write-locked node")
		}
	}
	seen := make(map[types.NodeId]struct{}, len(inv.Owned))
	for _, id := range inv.Owned {
		if _, dup := seen[id]; dup {
			return nil, nodeError(ErrOwnership, id, "node passed twice")
		}
		seen[id] = struct{}{}
		if !caller.owns(id) {
			return nil, nodeError(ErrOwnership, id, "caller %s does not own the node", caller.actor)
		}
		if locked, ok := k.subtreeLocked(id); ok {
			return nil, nodeError(ErrOwnership, locked, "cannot move a node with live locks")
		}
	}
	for _, ref := range inv.Refs {
		if err := k.checkVisible(caller, ref); err != nil {
			return nil, err
		}
	}
	for _, addr := range inv.Addresses {
		if _, ok := k.allocated[addr]; !ok {
			return nil, nodeError(ErrAddressNotAllocated, addr, "")
		}
	}

	actor, err := k.vm.Resolve(k, &inv)
	if err != nil {
		return nil, err
	}

	callee := newCallFrame(k.nextFrameID(), depth, actor)
	if inv.Receiver != nil {
		callee.lend(*inv.Receiver)
		k.lendNodeRefs(callee, *inv.Receiver)
	}
	for _, ref := range inv.Refs {
		callee.lend(ref)
		k.lendNodeRefs(callee, ref)
	}
	for _, id := range inv.Owned {
		caller.take(id)
		callee.give(id)
		k.lendNodeRefs(callee, id)
	}
	k.stack = append(k.stack, callee)
	k.logger.Debug("call frame pushed", slog.String("actor", actor.String()), slog.Int("depth", depth))

	out, err := k.runProtected(actor, &inv)
	if err == nil {
		out, err = k.returnFrame(callee, caller, out)
	}
	if err != nil {
		k.unwind(callee)
		return nil, err
	}
	return out, nil
}

func (k *Kernel) runProtected(actor Actor, inv *Invocation) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := newPanicError(r)
			k.logger.Warn("invocation panicked",
				slog.String("actor", actor.String()),
				slog.String("location", perr.Location),
				slog.String("message", perr.Message))
			out, err = nil, perr
		}
	}()
	return k.vm.Invoke(k, actor, inv)
}

func (k *Kernel) returnFrame(callee, caller *CallFrame, out *Output) (*Output, error) {
	if out == nil {
		out = &Output{}
	}
	k.locks.ReleaseFrame(callee.id)

	seen := make(map[types.NodeId]struct{}, len(out.Owned))
	for _, id := range out.Owned {
		if _, dup := seen[id]; dup {
			return nil, nodeError(ErrOwnership, id, "node returned twice")
		}
		seen[id] = struct{}{}
		if !callee.owns(id) {
			return nil, nodeError(ErrOwnership, id, "returned node not owned by %s", callee.actor)
		}
	}
	for _, id := range out.Owned {
		callee.take(id)
	}
	if err := k.dropLeftovers(callee); err != nil {
		return nil, err
	}

	k.stack = k.stack[:len(k.stack)-1]
	for _, id := range out.Owned {
		caller.give(id)
		k.lendNodeRefs(caller, id)
	}
	k.logger.Debug("call frame popped", slog.String("actor", callee.actor.String()), slog.Int("depth", callee.depth))
	return out, nil
}

// dropLeftovers disposes of every node f still owns. It runs with f on top of
// the stack.
func (k *Kernel) dropLeftovers(f *CallFrame) error {
	for _, id := range f.ownedNodes() {
		if k.dropper == nil || !f.owns(id) {
			continue
		}
		// The frame's code has returned; the dropper may reach refs.
		if n, ok := k.heap.node(id); ok {
			for _, ref := range n.refs {
				f.lend(ref)
			}
		}
		if err := k.dropper(k, id); err != nil {
			return err
		}
	}
	k.locks.ReleaseFrame(f.id)
	if left := f.ownedNodes(); len(left) > 0 {
		return nodeError(ErrNodeOrphaned, left[0], "still owned by %s on return", f.actor)
	}
	return nil
}

// unwind pops f and every frame above it, releasing their locks.
func (k *Kernel) unwind(f *CallFrame) {
	for i := len(k.stack) - 1; i > 0; i-- {
		frame := k.stack[i]
		k.locks.ReleaseFrame(frame.id)
		k.stack = k.stack[:i]
		if frame == f {
			k.logger.Debug("call frame unwound", slog.String("actor", frame.actor.String()), slog.Int("depth", frame.depth))
			return
		}
	}
}

// Finish closes the root frame. Leftover nodes are handed to the dropper and
// anything that survives is reported as orphaned.
func (k *Kernel) Finish() error {
	if len(k.stack) != 1 {
		return fmt.Errorf("%w: %d frames still on the stack", ErrInvalidInvocation, len(k.stack))
	}
	root := k.current()
	if err := k.dropLeftovers(root); err != nil {
		return err
	}
	if k.heap.Len() > 0 {
		left := make(map[types.NodeId]struct{}, k.heap.Len())
		for id := range k.heap.nodes {
			left[id] = struct{}{}
		}
		return nodeError(ErrNodeOrphaned, sortedIds(left)[0], "%d nodes left on the heap", len(left))
	}
	return nil
}

func (k *Kernel) Actor() Actor { return k.current().actor }

func (k *Kernel) OuterObject() (types.NodeId, error) {
	actor := k.current().actor
	if actor.Outer == nil {
		return types.NodeId{}, &KernelError{Kind: ErrOuterObjectNotFound, Detail: actor.String()}
	}
	return *actor.Outer, nil
}

func (k *Kernel) CurrentDepth() int { return k.current().depth }

func (k *Kernel) OwnedNodes() []types.NodeId { return k.current().ownedNodes() }

func (k *Kernel) PushToAuthZone(proof types.NodeId) error {
	f := k.current()
	if !f.owns(proof) {
		return nodeError(ErrOwnership, proof, "auth zone push by non-owner %s", f.actor)
	}
	if !proof.EntityType().IsProof() {
		return nodeError(ErrInvalidInvocation, proof, "only proofs can enter the auth zone")
	}
	if f.inAuthZone(proof) {
		return nodeError(ErrInvalidInvocation, proof, "proof already in the auth zone")
	}
	f.authZone = append(f.authZone, proof)
	return nil
}

func (k *Kernel) PopFromAuthZone() (types.NodeId, error) {
	f := k.current()
	if len(f.authZone) == 0 {
		return types.NodeId{}, fmt.Errorf("%w: auth zone is empty", ErrInvalidInvocation)
	}
	last := f.authZone[len(f.authZone)-1]
	f.authZone = f.authZone[:len(f.authZone)-1]
	return last, nil
}

func (k *Kernel) DrainAuthZone() []types.NodeId {
	f := k.current()
	out := f.authZone
	f.authZone = nil
	return out
}

func (k *Kernel) AuthZoneSubstates(partition types.PartitionNumber, key types.SubstateKey) ([][]byte, error) {
	frames := []*CallFrame{k.current()}
	if c := k.caller(); c != nil {
		frames = append(frames, c)
	}
	var out [][]byte
	for _, f := range frames {
		for _, proof := range f.authZone {
			value, err := k.read(types.SubstateAddress{Node: proof, Partition: partition, Key: key})
			if err != nil {
				return nil, err
			}
			if value != nil {
				out = append(out, append([]byte(nil), value...))
			}
		}
	}
	return out, nil
}

func (k *Kernel) EmitLog(level types.LogLevel, message string) error {
	if err := k.consume("emit_log", k.cfg.Costs.EmitLog+k.cfg.Costs.PerByte*uint64(len(message))); err != nil {
		return err
	}
	k.logs = append(k.logs, types.LogEntry{Level: level, Message: message})
	k.logger.Debug("application log", slog.String("level", string(level)), slog.String("message", message))
	return nil
}

func (k *Kernel) EmitEvent(eventType string, attributes map[string]string) error {
	if err := k.consume("emit_event", k.cfg.Costs.EmitEvent); err != nil {
		return err
	}
	actor := k.current().actor
	emitter := actor.Blueprint.Package
	if actor.Receiver != nil {
		emitter = *actor.Receiver
	}
	attrs := make(map[string]string, len(attributes))
	for key, value := range attributes {
		attrs[key] = value
	}
	k.events = append(k.events, types.Event{Emitter: emitter, Type: eventType, Attributes: attrs})
	return nil
}

func (k *Kernel) ConsumeCost(reason string, units uint64) error {
	return k.consume(reason, units)
}

func (k *Kernel) LockFee(vault, resource types.NodeId, amount types.Decimal, contingent bool) error {
	actor := k.current().actor
	if actor.Receiver == nil || *actor.Receiver != vault {
		return nodeError(ErrInvalidInvocation, vault, "fee can only be locked by the vault itself")
	}
	if k.costing == nil {
		return fmt.Errorf("%w: fee locking is not available", ErrInvalidInvocation)
	}
	return k.costing.LockFee(vault, resource, amount, contingent)
}
