package account

import (
	"errors"
	"fmt"
	"sort"

	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
	"ledgerengine/native/resource"
)

const (
	PackageName = "account"
	Blueprint   = "Account"
)

var PackageAddress = system.NativePackageAddress(PackageName)

var ErrVaultNotFound = errors.New("account: no vault for resource")

// VaultEntry maps a resource to the vault holding it.
type VaultEntry struct {
	Resource types.ResourceAddress
	Vault    types.NodeId
}

// State is field 0 of an account. Vaults is sorted by resource address.
type State struct {
	Owner  resource.AccessRule
	Vaults []VaultEntry
}

func (s *State) vault(r types.ResourceAddress) (types.NodeId, bool) {
	i := sort.Search(len(s.Vaults), func(i int) bool {
		return string(s.Vaults[i].Resource[:]) >= string(r[:])
	})
	if i < len(s.Vaults) && s.Vaults[i].Resource == r {
		return s.Vaults[i].Vault, true
	}
	return types.NodeId{}, false
}

func (s *State) insert(r types.ResourceAddress, vault types.NodeId) {
	s.Vaults = append(s.Vaults, VaultEntry{Resource: r, Vault: vault})
	sort.Slice(s.Vaults, func(i, j int) bool {
		return string(s.Vaults[i].Resource[:]) < string(s.Vaults[j].Resource[:])
	})
}

type NewArgs struct {
	Owner resource.AccessRule
}

type WithdrawArgs struct {
	Resource types.ResourceAddress
	Amount   types.Decimal
}

type WithdrawNonFungiblesArgs struct {
	Resource types.ResourceAddress
	Ids      []types.NonFungibleLocalId
}

type ResourceArgs struct {
	Resource types.ResourceAddress
}

func blueprint() types.BlueprintId {
	return types.BlueprintId{Package: PackageAddress, Name: Blueprint}
}

// Package returns the native account package.
func Package() *system.Package {
	pkg := system.NewPackage(PackageName)
	pkg.Add(&system.Blueprint{
		Name: Blueprint,
		Functions: map[string]system.NativeFunc{
			"new": newAccount,
		},
		Methods: map[string]system.NativeFunc{
			"deposit":                       deposit,
			"deposit_batch":                 depositBatch,
			"withdraw":                      withdraw,
			"withdraw_non_fungibles":        withdrawNonFungibles,
			"lock_fee":                      func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) { return lockFee(api, inv, false) },
			"lock_contingent_fee":           func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) { return lockFee(api, inv, true) },
			"create_proof_of_amount":        createProofOfAmount,
			"create_proof_of_non_fungibles": createProofOfNonFungibles,
			"balance":                       balance,
		},
	})
	return pkg
}

func newAccount(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args NewArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	var address *types.NodeId
	if len(inv.Addresses) > 0 {
		address = &inv.Addresses[0]
		if address.EntityType() != types.EntityGlobalGenericComponent {
			return nil, fmt.Errorf("%w: account address %s is a %s", kernel.ErrInvalidInvocation, address.Short(), address.EntityType())
		}
	}
	object, err := system.NewObject(api, system.ObjectSpec{
		Entity:    types.EntityInternalGenericComponent,
		Blueprint: blueprint(),
		Fields:    []any{&State{Owner: args.Owner}},
	})
	if err != nil {
		return nil, err
	}
	account, err := system.Globalize(api, object, types.EntityGlobalGenericComponent, address)
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(account)
}

func self(api kernel.Api) (types.NodeId, *State, error) {
	actor := api.Actor()
	if actor.Receiver == nil {
		return types.NodeId{}, nil, fmt.Errorf("%w: account method without receiver", kernel.ErrInvalidInvocation)
	}
	var state State
	if err := system.ReadField(api, *actor.Receiver, 0, &state); err != nil {
		return types.NodeId{}, nil, err
	}
	return *actor.Receiver, &state, nil
}

func ownedVault(api kernel.Api, r types.ResourceAddress) (resource.Vault, error) {
	_, state, err := self(api)
	if err != nil {
		return resource.Vault{}, err
	}
	if err := resource.CheckAccessRule(api, state.Owner); err != nil {
		return resource.Vault{}, err
	}
	vault, ok := state.vault(r)
	if !ok {
		return resource.Vault{}, fmt.Errorf("%w: %s", ErrVaultNotFound, r.Short())
	}
	return resource.Vault{Id: vault}, nil
}

func depositOne(api kernel.Api, account types.NodeId, bucket resource.Bucket) error {
	r, err := bucket.ResourceAddress(api)
	if err != nil {
		return err
	}
	var state State
	if err := system.ReadField(api, account, 0, &state); err != nil {
		return err
	}
	if existing, ok := state.vault(r); ok {
		return resource.Vault{Id: existing}.Put(api, bucket)
	}
	vault, err := resource.ResourceManager{Address: r}.CreateEmptyVault(api)
	if err != nil {
		return err
	}
	if err := vault.Put(api, bucket); err != nil {
		return err
	}
	if err := api.AttachNode(account, vault.Id); err != nil {
		return err
	}
	return system.ModifyField(api, account, 0, &state, func() error {
		state.insert(r, vault.Id)
		return nil
	})
}

func deposit(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	if len(inv.Owned) != 1 {
		return nil, fmt.Errorf("%w: deposit takes one bucket, got %d nodes", kernel.ErrInvalidInvocation, len(inv.Owned))
	}
	return depositBatch(api, inv)
}

func depositBatch(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	account, _, err := self(api)
	if err != nil {
		return nil, err
	}
	for _, id := range inv.Owned {
		if !id.EntityType().IsBucket() {
			return nil, fmt.Errorf("%w: %s is not a bucket", kernel.ErrInvalidInvocation, id.Short())
		}
		if err := depositOne(api, account, resource.Bucket{Id: id}); err != nil {
			return nil, err
		}
	}
	return &kernel.Output{}, nil
}

func withdraw(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args WithdrawArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	vault, err := ownedVault(api, args.Resource)
	if err != nil {
		return nil, err
	}
	bucket, err := vault.Take(api, args.Amount)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{bucket.Id}}, nil
}

func withdrawNonFungibles(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args WithdrawNonFungiblesArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	vault, err := ownedVault(api, args.Resource)
	if err != nil {
		return nil, err
	}
	bucket, err := vault.TakeNonFungibles(api, args.Ids...)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{bucket.Id}}, nil
}

// lockFee pays from the account's native token vault.
func lockFee(api kernel.Api, inv *kernel.Invocation, contingent bool) (*kernel.Output, error) {
	var args resource.AmountArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	vault, err := ownedVault(api, resource.NativeTokenAddress)
	if err != nil {
		return nil, err
	}
	if contingent {
		err = vault.LockContingentFee(api, args.Amount)
	} else {
		err = vault.LockFee(api, args.Amount)
	}
	if err != nil {
		return nil, err
	}
	return &kernel.Output{}, nil
}

func createProofOfAmount(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args WithdrawArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	vault, err := ownedVault(api, args.Resource)
	if err != nil {
		return nil, err
	}
	proof, err := vault.CreateProofOfAmount(api, args.Amount)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{proof.Id}}, nil
}

func createProofOfNonFungibles(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args WithdrawNonFungiblesArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	vault, err := ownedVault(api, args.Resource)
	if err != nil {
		return nil, err
	}
	proof, err := vault.CreateProofOfNonFungibles(api, args.Ids...)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{proof.Id}}, nil
}

func balance(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args ResourceArgs
	if err := common.DecodeArgs(inv.Args, &args); err != nil {
		return nil, err
	}
	_, state, err := self(api)
	if err != nil {
		return nil, err
	}
	vault, ok := state.vault(args.Resource)
	if !ok {
		return system.EncodeOutput(types.Decimal{})
	}
	amount, err := resource.Vault{Id: vault}.Amount(api)
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(amount)
}
