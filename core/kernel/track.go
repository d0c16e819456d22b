package kernel

import (
	"fmt"

	"ledgerengine/core/types"
)

// SubstateReader is the committed state the track reads through to.
type SubstateReader interface {
	Get(addr types.SubstateAddress) ([]byte, bool, error)
}

var kernelMetaKey = types.FieldKey(0)

const (
	metaRoot  byte = 0
	metaChild byte = 1
)

type trackedValue struct {
	value  []byte
	exists bool
}

// Track buffers the writes of one transaction on top of the committed store.
// Nothing reaches the store until the executor commits Updates.
type Track struct {
	store      SubstateReader
	reads      map[types.SubstateAddress]trackedValue
	writes     map[types.SubstateAddress]trackedValue
	newGlobals []types.NodeId
}

func NewTrack(store SubstateReader) *Track {
	return &Track{
		store:  store,
		reads:  make(map[types.SubstateAddress]trackedValue),
		writes: make(map[types.SubstateAddress]trackedValue),
	}
}

func (t *Track) Get(addr types.SubstateAddress) ([]byte, bool, error) {
	if w, ok := t.writes[addr]; ok {
		return w.value, w.exists, nil
	}
	if r, ok := t.reads[addr]; ok {
		return r.value, r.exists, nil
	}
	value, exists, err := t.store.Get(addr)
	if err != nil {
		return nil, false, err
	}
	t.reads[addr] = trackedValue{value: value, exists: exists}
	return value, exists, nil
}

func (t *Track) Set(addr types.SubstateAddress, value []byte) {
	t.writes[addr] = trackedValue{value: append([]byte(nil), value...), exists: true}
}

func (t *Track) Delete(addr types.SubstateAddress) {
	t.writes[addr] = trackedValue{}
}

func metaAddress(node types.NodeId) types.SubstateAddress {
	return types.SubstateAddress{Node: node, Partition: types.PartitionKernelMeta, Key: kernelMetaKey}
}

// NodeExists reports whether node has been persisted.
func (t *Track) NodeExists(node types.NodeId) (bool, error) {
	_, ok, err := t.Get(metaAddress(node))
	return ok, err
}

// Parent returns the owner of a persisted internal node.
func (t *Track) Parent(node types.NodeId) (types.NodeId, bool, error) {
	raw, ok, err := t.Get(metaAddress(node))
	if err != nil || !ok {
		return types.NodeId{}, false, err
	}
	if len(raw) == 0 || raw[0] == metaRoot {
		return types.NodeId{}, false, nil
	}
	parent, err := types.NodeIdFromBytes(raw[1:])
	if err != nil {
		return types.NodeId{}, false, fmt.Errorf("kernel: corrupt node meta for %s: %w", node, err)
	}
	return parent, true, nil
}

func (t *Track) writeMeta(node types.NodeId, parent types.NodeId, hasParent bool) {
	if !hasParent {
		t.Set(metaAddress(node), []byte{metaRoot})
		return
	}
	t.Set(metaAddress(node), append([]byte{metaChild}, parent[:]...))
}

func (t *Track) markGlobal(node types.NodeId) {
	t.newGlobals = append(t.newGlobals, node)
}

// NewGlobalNodes returns the global nodes persisted in this transaction, in
// creation order.
func (t *Track) NewGlobalNodes() []types.NodeId {
	return append([]types.NodeId(nil), t.newGlobals...)
}

// Updates returns the buffered writes in canonical address order.
func (t *Track) Updates() []types.StateUpdate {
	addrs := make([]types.SubstateAddress, 0, len(t.writes))
	for addr := range t.writes {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)
	out := make([]types.StateUpdate, 0, len(addrs))
	for _, addr := range addrs {
		w := t.writes[addr]
		out = append(out, types.StateUpdate{Address: addr, Value: w.value, Delete: !w.exists})
	}
	return out
}

// Rollback discards every buffered write. Reads stay cached.
func (t *Track) Rollback() {
	t.writes = make(map[types.SubstateAddress]trackedValue)
	t.newGlobals = nil
}
