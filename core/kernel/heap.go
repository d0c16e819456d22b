package kernel

import (
	"sort"

	"ledgerengine/core/types"
)

// NodeSubstates is the full content of a node, by partition and key.
type NodeSubstates map[types.PartitionNumber]map[types.SubstateKey][]byte

// Set stores a value, allocating the partition on first use.
func (s NodeSubstates) Set(partition types.PartitionNumber, key types.SubstateKey, value []byte) {
	p, ok := s[partition]
	if !ok {
		p = make(map[types.SubstateKey][]byte)
		s[partition] = p
	}
	p[key] = value
}

func (s NodeSubstates) Get(partition types.PartitionNumber, key types.SubstateKey) ([]byte, bool) {
	p, ok := s[partition]
	if !ok {
		return nil, false
	}
	v, ok := p[key]
	return v, ok
}

func (s NodeSubstates) Delete(partition types.PartitionNumber, key types.SubstateKey) {
	if p, ok := s[partition]; ok {
		delete(p, key)
	}
}

// Addresses returns every substate address of node in canonical order.
func (s NodeSubstates) Addresses(node types.NodeId) []types.SubstateAddress {
	var out []types.SubstateAddress
	for partition, entries := range s {
		for key := range entries {
			out = append(out, types.SubstateAddress{Node: node, Partition: partition, Key: key})
		}
	}
	sortAddresses(out)
	return out
}

func sortAddresses(addrs []types.SubstateAddress) {
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i].Bytes()) < string(addrs[j].Bytes())
	})
}

type heapNode struct {
	substates NodeSubstates
	parent    types.NodeId
	hasParent bool
	children  map[types.NodeId]struct{}
	refs      []types.NodeId
	// creator is the package whose code created the node. Only frames of
	// that package are lent refs.
	creator types.NodeId
}

// Heap is the arena of nodes created during the transaction that have not been
// persisted. Ownership edges form a forest; non-owning references are recorded
// separately as plain ids.
type Heap struct {
	nodes map[types.NodeId]*heapNode
}

func NewHeap() *Heap {
	return &Heap{nodes: make(map[types.NodeId]*heapNode)}
}

func (h *Heap) Contains(id types.NodeId) bool {
	_, ok := h.nodes[id]
	return ok
}

func (h *Heap) Len() int { return len(h.nodes) }

func (h *Heap) insert(id types.NodeId, substates NodeSubstates, refs []types.NodeId, creator types.NodeId) {
	if substates == nil {
		substates = make(NodeSubstates)
	}
	h.nodes[id] = &heapNode{
		substates: substates,
		children:  make(map[types.NodeId]struct{}),
		refs:      append([]types.NodeId(nil), refs...),
		creator:   creator,
	}
}

func (h *Heap) node(id types.NodeId) (*heapNode, bool) {
	n, ok := h.nodes[id]
	return n, ok
}

// remove detaches a node from the arena. Its children become roots.
func (h *Heap) remove(id types.NodeId) (*heapNode, []types.NodeId) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, nil
	}
	delete(h.nodes, id)
	if n.hasParent {
		if parent, ok := h.nodes[n.parent]; ok {
			delete(parent.children, id)
		}
	}
	children := sortedIds(n.children)
	for _, child := range children {
		if c, ok := h.nodes[child]; ok {
			c.hasParent = false
			c.parent = types.NodeId{}
		}
	}
	return n, children
}

func (h *Heap) attach(parent, child types.NodeId) {
	p := h.nodes[parent]
	c := h.nodes[child]
	c.parent = parent
	c.hasParent = true
	p.children[child] = struct{}{}
}

// subtree returns id and all its heap descendants, parents before children.
func (h *Heap) subtree(id types.NodeId) []types.NodeId {
	out := []types.NodeId{id}
	for i := 0; i < len(out); i++ {
		if n, ok := h.nodes[out[i]]; ok {
			out = append(out, sortedIds(n.children)...)
		}
	}
	return out
}

// rehome moves the content of a node to a new id, keeping its children.
func (h *Heap) rehome(from, to types.NodeId) {
	n := h.nodes[from]
	delete(h.nodes, from)
	h.nodes[to] = n
	for child := range n.children {
		h.nodes[child].parent = to
	}
}

func sortedIds(set map[types.NodeId]struct{}) []types.NodeId {
	out := make([]types.NodeId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
