package resource

import (
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

const (
	PackageName = "resource"

	ResourceManagerBlueprint = "ResourceManager"
	BucketBlueprint          = "Bucket"
	VaultBlueprint           = "Vault"
	ProofBlueprint           = "Proof"
)

// PackageAddress is the fixed address of the resource package.
var PackageAddress = system.NativePackageAddress(PackageName)

// NativeTokenAddress is the fungible resource transaction fees are paid in.
// The executor creates it at bootstrap.
var NativeTokenAddress = types.NewNodeId(types.EntityGlobalFungibleResourceManager, []byte("native-token"), 0)

func blueprint(name string) types.BlueprintId {
	return types.BlueprintId{Package: PackageAddress, Name: name}
}

// WithdrawStrategy governs amounts that cannot be represented at the
// resource's granularity.
type WithdrawStrategy uint8

const (
	// Exact rejects such amounts with ErrInvalidAmount.
	Exact WithdrawStrategy = iota
	RoundUp
	RoundDown
)

func (s WithdrawStrategy) apply(amount types.Decimal, divisibility uint8) (types.Decimal, error) {
	switch s {
	case Exact:
		if !amount.CheckDivisibility(divisibility) {
			return types.Decimal{}, fmt.Errorf("%w: %s exceeds divisibility %d", ErrInvalidAmount, amount, divisibility)
		}
		return amount, nil
	case RoundUp:
		return amount.Round(divisibility, types.RoundUp)
	case RoundDown:
		return amount.Round(divisibility, types.RoundDown)
	default:
		return types.Decimal{}, fmt.Errorf("%w: unknown withdraw strategy %d", ErrInvalidAmount, s)
	}
}

// ManagerState is the main field of a resource manager.
type ManagerState struct {
	Fungible     bool
	Divisibility uint8
	TotalSupply  types.Decimal
	Rules        AccessRules
}

func (m *ManagerState) divisibility() uint8 {
	if !m.Fungible {
		return 0
	}
	return m.Divisibility
}

// Invocation arguments.

type AmountArgs struct {
	Amount types.Decimal
}

type TakeArgs struct {
	Amount   types.Decimal
	Strategy WithdrawStrategy
}

type IdsArgs struct {
	Ids []types.NonFungibleLocalId
}

// ComposeProofArgs selects what a proof composed from an auth zone covers.
// With neither flag set it covers everything the zone proves.
type ComposeProofArgs struct {
	Resource  types.ResourceAddress
	HasAmount bool
	Amount    types.Decimal
	HasIds    bool
	Ids       []types.NonFungibleLocalId
}

type IdArgs struct {
	Id types.NonFungibleLocalId
}

type CreateFungibleArgs struct {
	Divisibility  uint8
	InitialSupply types.Decimal
	Rules         AccessRules
}

type CreateNonFungibleArgs struct {
	Ids   []types.NonFungibleLocalId
	Data  [][]byte
	Rules AccessRules
}

type MintNonFungibleArgs struct {
	Ids  []types.NonFungibleLocalId
	Data [][]byte
}

// Package returns the native resource package.
func Package() *system.Package {
	pkg := system.NewPackage(PackageName)
	pkg.Add(&system.Blueprint{
		Name: ResourceManagerBlueprint,
		Functions: map[string]system.NativeFunc{
			"create_fungible":     createFungible,
			"create_non_fungible": createNonFungible,
		},
		Methods: map[string]system.NativeFunc{
			"mint":                  mint,
			"mint_non_fungible":     mintNonFungible,
			"burn":                  burn,
			"create_empty_bucket":   createEmptyBucket,
			"create_empty_vault":    createEmptyVault,
			"get_total_supply":      getTotalSupply,
			"get_non_fungible_data": getNonFungibleData,
		},
	})
	pkg.Add(&system.Blueprint{
		Name: BucketBlueprint,
		Functions: map[string]system.NativeFunc{
			"drop_empty": dropEmptyBucket,
		},
		Methods: containerMethods(false),
	})
	pkg.Add(&system.Blueprint{
		Name:    VaultBlueprint,
		Methods: containerMethods(true),
	})
	pkg.Add(&system.Blueprint{
		Name: ProofBlueprint,
		Functions: map[string]system.NativeFunc{
			"drop":                   dropProofFunction,
			"compose_from_auth_zone": composeProof,
		},
		Methods: map[string]system.NativeFunc{
			"clone":                      cloneProof,
			"get_amount":                 proofAmount,
			"get_non_fungible_local_ids": proofIds,
			"get_resource_address":       proofResource,
		},
	})
	return pkg
}

func readManager(api kernel.Api, resource types.ResourceAddress) (*ManagerState, error) {
	var state ManagerState
	if err := system.ReadField(api, resource, 0, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func readContainer(api kernel.Api, node types.NodeId) (*Container, error) {
	var c Container
	if err := system.ReadField(api, node, 0, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func receiver(api kernel.Api) (types.NodeId, error) {
	actor := api.Actor()
	if actor.Receiver == nil {
		return types.NodeId{}, fmt.Errorf("%w: %s requires a receiver", kernel.ErrInvalidInvocation, actor)
	}
	return *actor.Receiver, nil
}

func bucketEntity(fungible bool) types.EntityType {
	if fungible {
		return types.EntityTransientFungibleBucket
	}
	return types.EntityTransientNonFungibleBucket
}

func vaultEntity(fungible bool) types.EntityType {
	if fungible {
		return types.EntityInternalFungibleVault
	}
	return types.EntityInternalNonFungibleVault
}

func proofEntity(fungible bool) types.EntityType {
	if fungible {
		return types.EntityTransientFungibleProof
	}
	return types.EntityTransientNonFungibleProof
}

// newBucket creates a bucket owned by the current frame.
func newBucket(api kernel.Api, resource types.ResourceAddress, c *Container) (types.NodeId, error) {
	return system.NewObject(api, system.ObjectSpec{
		Entity:    bucketEntity(c.Fungible),
		Blueprint: blueprint(BucketBlueprint),
		Outer:     &resource,
		Fields:    []any{c},
	})
}

func newVault(api kernel.Api, resource types.ResourceAddress, fungible bool) (types.NodeId, error) {
	c := &Container{Fungible: fungible}
	return system.NewObject(api, system.ObjectSpec{
		Entity:    vaultEntity(fungible),
		Blueprint: blueprint(VaultBlueprint),
		Outer:     &resource,
		Fields:    []any{c},
	})
}

// drainBucket destroys a frame-owned bucket of resource and returns its
// content.
func drainBucket(api kernel.Api, bucket types.NodeId, resource types.ResourceAddress) (*Container, error) {
	if !bucket.EntityType().IsBucket() {
		return nil, fmt.Errorf("%w: %s is not a bucket", kernel.ErrInvalidInvocation, bucket.EntityType())
	}
	info, err := system.ReadTypeInfo(api, bucket)
	if err != nil {
		return nil, err
	}
	if info.Outer == nil || *info.Outer != resource {
		return nil, fmt.Errorf("%w: bucket does not hold %s", ErrMismatchingResource, resource.Short())
	}
	c, err := readContainer(api, bucket)
	if err != nil {
		return nil, err
	}
	if c.IsLocked() {
		return nil, ErrContainerLocked
	}
	if _, err := api.DropNode(bucket); err != nil {
		return nil, err
	}
	return c, nil
}

func emit(api kernel.Api, evt interface {
	EventType() string
	Event() *types.Event
}) error {
	return api.EmitEvent(evt.EventType(), evt.Event().Attributes)
}

func singleOwned(inv *kernel.Invocation) (types.NodeId, error) {
	if len(inv.Owned) != 1 {
		return types.NodeId{}, fmt.Errorf("%w: expected one node argument, got %d", kernel.ErrInvalidInvocation, len(inv.Owned))
	}
	return inv.Owned[0], nil
}

func decodeArgs(inv *kernel.Invocation, v any) error {
	return common.DecodeArgs(inv.Args, v)
}

// DropTransientNode disposes of a node left in a returning frame. Proofs are
// dropped, empty buckets are destroyed and anything else is orphaned.
func DropTransientNode(api kernel.Api, node types.NodeId) error {
	entity := node.EntityType()
	switch {
	case entity.IsProof():
		return dropProof(api, node)
	case entity.IsBucket():
		c, err := readContainer(api, node)
		if err != nil {
			return err
		}
		if !c.IsEmpty() || c.IsLocked() {
			return &kernel.KernelError{Kind: kernel.ErrNodeOrphaned, Node: node, Detail: "bucket still holds " + c.Amount().String()}
		}
		_, err = api.DropNode(node)
		return err
	default:
		return &kernel.KernelError{Kind: kernel.ErrNodeOrphaned, Node: node, Detail: entity.String() + " cannot be dropped"}
	}
}
