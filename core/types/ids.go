package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// NodeIdLength is the size of a node identifier in bytes. The first byte is
// the entity type, the remaining bytes are derived from the allocation seed.
const NodeIdLength = 30

// EntityType classifies a node. It is encoded as the first byte of every NodeId
// so the kind of an object can be determined without loading it.
type EntityType uint8

const (
	EntityGlobalPackage EntityType = iota + 1
	EntityGlobalGenericComponent
	EntityGlobalFungibleResourceManager
	EntityGlobalNonFungibleResourceManager
	EntityInternalGenericComponent
	EntityInternalFungibleVault
	EntityInternalNonFungibleVault
	EntityInternalKeyValueStore
	EntityTransientFungibleBucket
	EntityTransientNonFungibleBucket
	EntityTransientFungibleProof
	EntityTransientNonFungibleProof
)

var entityTypeNames = map[EntityType]string{
	EntityGlobalPackage:                    "package",
	EntityGlobalGenericComponent:           "component",
	EntityGlobalFungibleResourceManager:    "fungible_resource",
	EntityGlobalNonFungibleResourceManager: "non_fungible_resource",
	EntityInternalGenericComponent:         "internal_component",
	EntityInternalFungibleVault:            "fungible_vault",
	EntityInternalNonFungibleVault:         "non_fungible_vault",
	EntityInternalKeyValueStore:            "key_value_store",
	EntityTransientFungibleBucket:          "fungible_bucket",
	EntityTransientNonFungibleBucket:       "non_fungible_bucket",
	EntityTransientFungibleProof:           "fungible_proof",
	EntityTransientNonFungibleProof:        "non_fungible_proof",
}

func (e EntityType) String() string {
	if name, ok := entityTypeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("entity(%d)", uint8(e))
}

// Valid reports whether the entity type is known.
func (e EntityType) Valid() bool {
	_, ok := entityTypeNames[e]
	return ok
}

// IsGlobal reports whether nodes of this type are addressable from anywhere.
func (e EntityType) IsGlobal() bool {
	switch e {
	case EntityGlobalPackage, EntityGlobalGenericComponent,
		EntityGlobalFungibleResourceManager, EntityGlobalNonFungibleResourceManager:
		return true
	}
	return false
}

// IsTransient reports whether nodes of this type may never reach the store.
func (e EntityType) IsTransient() bool {
	switch e {
	case EntityTransientFungibleBucket, EntityTransientNonFungibleBucket,
		EntityTransientFungibleProof, EntityTransientNonFungibleProof:
		return true
	}
	return false
}

func (e EntityType) IsBucket() bool {
	return e == EntityTransientFungibleBucket || e == EntityTransientNonFungibleBucket
}

func (e EntityType) IsProof() bool {
	return e == EntityTransientFungibleProof || e == EntityTransientNonFungibleProof
}

func (e EntityType) IsVault() bool {
	return e == EntityInternalFungibleVault || e == EntityInternalNonFungibleVault
}

func (e EntityType) IsResourceManager() bool {
	return e == EntityGlobalFungibleResourceManager || e == EntityGlobalNonFungibleResourceManager
}

// IsFungible reports whether a resource related entity carries fungible
// contents. It returns false for non resource entities.
func (e EntityType) IsFungible() bool {
	switch e {
	case EntityGlobalFungibleResourceManager, EntityInternalFungibleVault,
		EntityTransientFungibleBucket, EntityTransientFungibleProof:
		return true
	}
	return false
}

// NodeId identifies an object instance.
type NodeId [NodeIdLength]byte

// NewNodeId derives a node id for the entity type from an allocation seed and a
// per-seed counter. The derivation is deterministic so replaying a transaction
// allocates the same ids.
func NewNodeId(entity EntityType, seed []byte, index uint64) NodeId {
	h := blake3.New(32, nil)
	_, _ = h.Write(seed)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	_, _ = h.Write(buf[:])
	sum := h.Sum(nil)

	var id NodeId
	id[0] = byte(entity)
	copy(id[1:], sum[:NodeIdLength-1])
	return id
}

func (id NodeId) EntityType() EntityType { return EntityType(id[0]) }

func (id NodeId) IsGlobal() bool { return id.EntityType().IsGlobal() }

func (id NodeId) IsTransient() bool { return id.EntityType().IsTransient() }

func (id NodeId) IsZero() bool { return id == NodeId{} }

func (id NodeId) Bytes() []byte { return append([]byte(nil), id[:]...) }

func (id NodeId) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated form suitable for log lines.
func (id NodeId) Short() string {
	s := id.String()
	return s[:2] + ".." + s[len(s)-8:]
}

var zeroNodeIdHex = strings.Repeat("0", 2*NodeIdLength)

// MarshalText renders the zero id as an empty string so optional id fields
// survive a text round trip.
func (id NodeId) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *NodeId) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(text)), "0x")
	if s == "" || s == zeroNodeIdHex {
		*id = NodeId{}
		return nil
	}
	parsed, err := ParseNodeId(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeId decodes a hex encoded node id, with or without a 0x prefix.
func ParseNodeId(s string) (NodeId, error) {
	var id NodeId
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("types: decode node id: %w", err)
	}
	if len(raw) != NodeIdLength {
		return id, fmt.Errorf("types: node id must be %d bytes (got %d)", NodeIdLength, len(raw))
	}
	copy(id[:], raw)
	if !id.EntityType().Valid() {
		return NodeId{}, fmt.Errorf("types: unknown entity type %d", raw[0])
	}
	return id, nil
}

// NodeIdFromBytes copies a raw node id.
func NodeIdFromBytes(raw []byte) (NodeId, error) {
	var id NodeId
	if len(raw) != NodeIdLength {
		return id, fmt.Errorf("types: node id must be %d bytes (got %d)", NodeIdLength, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ResourceAddress is the global address of a resource manager.
type ResourceAddress = NodeId

// BlueprintId names a blueprint within a package.
type BlueprintId struct {
	Package NodeId
	Name    string
}

func (b BlueprintId) String() string {
	return b.Package.Short() + "::" + b.Name
}

// NonFungibleLocalId identifies a single unit of a non-fungible resource.
type NonFungibleLocalId string

// MaxNonFungibleLocalIdLength bounds the size of a local id.
const MaxNonFungibleLocalIdLength = 64

func (id NonFungibleLocalId) Validate() error {
	if len(id) == 0 {
		return fmt.Errorf("types: non-fungible local id must not be empty")
	}
	if len(id) > MaxNonFungibleLocalIdLength {
		return fmt.Errorf("types: non-fungible local id longer than %d bytes", MaxNonFungibleLocalIdLength)
	}
	return nil
}

// NonFungibleGlobalId pairs a local id with its resource.
type NonFungibleGlobalId struct {
	Resource ResourceAddress
	Local    NonFungibleLocalId
}

func (g NonFungibleGlobalId) String() string {
	return g.Resource.String() + ":" + string(g.Local)
}
