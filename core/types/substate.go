package types

import (
	"encoding/hex"
	"fmt"
)

// PartitionNumber groups the substates of a node.
type PartitionNumber uint8

const (
	PartitionTypeInfo        PartitionNumber = 0
	PartitionMain            PartitionNumber = 1
	PartitionNonFungibleData PartitionNumber = 2
	PartitionAuthZone        PartitionNumber = 3
	PartitionKernelMeta      PartitionNumber = 255
)

// SubstateKey addresses a substate within a partition. Field keys are a single
// byte; map keys are arbitrary bytes prefixed with a marker so the two spaces
// never collide.
type SubstateKey string

const (
	fieldKeyMarker = 'f'
	mapKeyMarker   = 'm'
)

// FieldKey returns the key of a fixed field.
func FieldKey(index uint8) SubstateKey {
	return SubstateKey([]byte{fieldKeyMarker, index})
}

// MapKey returns the key of an entry in a key/value partition.
func MapKey(key []byte) SubstateKey {
	out := make([]byte, 0, len(key)+1)
	out = append(out, mapKeyMarker)
	out = append(out, key...)
	return SubstateKey(out)
}

func (k SubstateKey) IsField() bool { return len(k) == 2 && k[0] == fieldKeyMarker }

func (k SubstateKey) IsMap() bool { return len(k) >= 1 && k[0] == mapKeyMarker }

// MapBytes returns the user key of a map key.
func (k SubstateKey) MapBytes() []byte {
	if !k.IsMap() {
		return nil
	}
	return []byte(k[1:])
}

func (k SubstateKey) String() string {
	switch {
	case k.IsField():
		return fmt.Sprintf("field(%d)", k[1])
	case k.IsMap():
		return "map(" + hex.EncodeToString([]byte(k[1:])) + ")"
	default:
		return "raw(" + hex.EncodeToString([]byte(k)) + ")"
	}
}

// SubstateAddress is the full location of a substate.
type SubstateAddress struct {
	Node      NodeId
	Partition PartitionNumber
	Key       SubstateKey
}

func (a SubstateAddress) String() string {
	return fmt.Sprintf("%s/%d/%s", a.Node.Short(), a.Partition, a.Key)
}

// Bytes returns the canonical byte encoding used for store keys and ordering.
func (a SubstateAddress) Bytes() []byte {
	out := make([]byte, 0, NodeIdLength+1+len(a.Key))
	out = append(out, a.Node[:]...)
	out = append(out, byte(a.Partition))
	out = append(out, a.Key...)
	return out
}

// SubstateAddressFromBytes reverses Bytes.
func SubstateAddressFromBytes(raw []byte) (SubstateAddress, error) {
	if len(raw) < NodeIdLength+1 {
		return SubstateAddress{}, fmt.Errorf("types: substate address too short (%d bytes)", len(raw))
	}
	var addr SubstateAddress
	copy(addr.Node[:], raw[:NodeIdLength])
	addr.Partition = PartitionNumber(raw[NodeIdLength])
	addr.Key = SubstateKey(raw[NodeIdLength+1:])
	return addr, nil
}
