package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// OpCode identifies a transaction instruction.
type OpCode uint8

const (
	OpCallFunction OpCode = iota + 1
	OpCallMethod
	OpTakeFromWorktop
	OpTakeAllFromWorktop
	OpTakeNonFungiblesFromWorktop
	OpReturnToWorktop
	OpAssertWorktopContains
	OpCreateProofFromBucket
	OpCreateProofFromAuthZone
	OpCloneProof
	OpDropProof
	OpPushToAuthZone
	OpPopFromAuthZone
	OpDropAllProofs
	OpAllocateGlobalAddress
	OpLockFee
)

var opCodeNames = map[OpCode]string{
	OpCallFunction:                "call_function",
	OpCallMethod:                  "call_method",
	OpTakeFromWorktop:             "take_from_worktop",
	OpTakeAllFromWorktop:          "take_all_from_worktop",
	OpTakeNonFungiblesFromWorktop: "take_non_fungibles_from_worktop",
	OpReturnToWorktop:             "return_to_worktop",
	OpAssertWorktopContains:       "assert_worktop_contains",
	OpCreateProofFromBucket:       "create_proof_from_bucket",
	OpCreateProofFromAuthZone:     "create_proof_from_auth_zone",
	OpCloneProof:                  "clone_proof",
	OpDropProof:                   "drop_proof",
	OpPushToAuthZone:              "push_to_auth_zone",
	OpPopFromAuthZone:             "pop_from_auth_zone",
	OpDropAllProofs:               "drop_all_proofs",
	OpAllocateGlobalAddress:       "allocate_global_address",
	OpLockFee:                     "lock_fee",
}

func (op OpCode) String() string {
	if name, ok := opCodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func (op OpCode) MarshalText() ([]byte, error) {
	if _, ok := opCodeNames[op]; !ok {
		return nil, fmt.Errorf("types: unknown opcode %d", uint8(op))
	}
	return []byte(op.String()), nil
}

func (op *OpCode) UnmarshalText(text []byte) error {
	want := strings.ToLower(strings.TrimSpace(string(text)))
	for code, name := range opCodeNames {
		if name == want {
			*op = code
			return nil
		}
	}
	return fmt.Errorf("types: unknown instruction %q", want)
}

func (e EntityType) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("types: unknown entity type %d", uint8(e))
	}
	return []byte(e.String()), nil
}

func (e *EntityType) UnmarshalText(text []byte) error {
	want := strings.ToLower(strings.TrimSpace(string(text)))
	for entity, name := range entityTypeNames {
		if name == want {
			*e = entity
			return nil
		}
	}
	return fmt.Errorf("types: unknown entity type %q", want)
}

// HexBytes is a byte slice that renders as hex in text formats.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(text)), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("types: decode hex: %w", err)
	}
	*b = raw
	return nil
}

// Instruction is one step of a transaction. Only the fields relevant to the
// opcode are populated. Bucket and Proof name existing transaction-scoped
// containers; Into names the container or address produced by the step.
type Instruction struct {
	Op         OpCode               `json:"op" yaml:"op"`
	Address    NodeId               `json:"address,omitempty" yaml:"address,omitempty"`
	Package    NodeId               `json:"package,omitempty" yaml:"package,omitempty"`
	Blueprint  string               `json:"blueprint,omitempty" yaml:"blueprint,omitempty"`
	Function   string               `json:"function,omitempty" yaml:"function,omitempty"`
	Args       HexBytes             `json:"args,omitempty" yaml:"args,omitempty"`
	Resource   NodeId               `json:"resource,omitempty" yaml:"resource,omitempty"`
	Amount     Decimal              `json:"amount,omitempty" yaml:"amount,omitempty"`
	Ids        []NonFungibleLocalId `json:"ids,omitempty" yaml:"ids,omitempty"`
	Bucket     string               `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Proof      string               `json:"proof,omitempty" yaml:"proof,omitempty"`
	Buckets    []string             `json:"buckets,omitempty" yaml:"buckets,omitempty"`
	Proofs     []string             `json:"proofs,omitempty" yaml:"proofs,omitempty"`
	Addresses  []string             `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Entity     EntityType           `json:"entity,omitempty" yaml:"entity,omitempty"`
	Contingent bool                 `json:"contingent,omitempty" yaml:"contingent,omitempty"`
	Into       string               `json:"into,omitempty" yaml:"into,omitempty"`
}

// Transaction is an ordered list of instructions executed atomically.
type Transaction struct {
	Network      string        `json:"network" yaml:"network"`
	Nonce        uint64        `json:"nonce" yaml:"nonce"`
	Instructions []Instruction `json:"instructions" yaml:"instructions"`
}

// Hash is the keccak256 digest of the transaction's RLP encoding.
func (tx *Transaction) Hash() (Hash, error) {
	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return Hash{}, fmt.Errorf("types: encode transaction: %w", err)
	}
	var h Hash
	copy(h[:], crypto.Keccak256(encoded))
	return h, nil
}

// Hash is a 32 byte digest.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a hex digest, with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return h, fmt.Errorf("types: decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("types: hash must be %d bytes (got %d)", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
