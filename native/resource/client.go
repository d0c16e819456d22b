package resource

import (
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

// Client handles for resource objects. Each call is a kernel invocation from
// the caller's frame, so ownership of returned nodes lands with the caller.

type Bucket struct{ Id types.NodeId }

type Vault struct{ Id types.NodeId }

type Proof struct{ Id types.NodeId }

type ResourceManager struct{ Address types.ResourceAddress }

func callMethod(api kernel.Api, receiver types.NodeId, ident string, args any, owned ...types.NodeId) (*kernel.Output, error) {
	var encoded []byte
	if args != nil {
		var err error
		if encoded, err = common.Encode(args); err != nil {
			return nil, err
		}
	}
	return api.Invoke(kernel.MethodInvocation(receiver, ident, encoded, owned...))
}

func callFunction(api kernel.Api, bp string, ident string, args any, owned ...types.NodeId) (*kernel.Output, error) {
	var encoded []byte
	if args != nil {
		var err error
		if encoded, err = common.Encode(args); err != nil {
			return nil, err
		}
	}
	return api.Invoke(kernel.FunctionInvocation(blueprint(bp), ident, encoded, owned...))
}

func oneOwned(out *kernel.Output, what string) (types.NodeId, error) {
	if len(out.Owned) != 1 {
		return types.NodeId{}, fmt.Errorf("%w: expected one %s, got %d nodes", kernel.ErrInvalidInvocation, what, len(out.Owned))
	}
	return out.Owned[0], nil
}

func decodeOutput[T any](out *kernel.Output) (T, error) {
	var v T
	err := common.Decode(out.Data, &v)
	return v, err
}

// CreateFungible creates a fungible resource. The bucket is nil when the
// initial supply is zero. A non-nil address must have been preallocated and
// passed by the caller.
func CreateFungible(api kernel.Api, args CreateFungibleArgs, address *types.NodeId) (ResourceManager, *Bucket, error) {
	return create(api, "create_fungible", &args, address)
}

func CreateNonFungible(api kernel.Api, args CreateNonFungibleArgs, address *types.NodeId) (ResourceManager, *Bucket, error) {
	return create(api, "create_non_fungible", &args, address)
}

func create(api kernel.Api, ident string, args any, address *types.NodeId) (ResourceManager, *Bucket, error) {
	encoded, err := common.Encode(args)
	if err != nil {
		return ResourceManager{}, nil, err
	}
	inv := kernel.FunctionInvocation(blueprint(ResourceManagerBlueprint), ident, encoded)
	if address != nil {
		inv.Addresses = []types.NodeId{*address}
	}
	out, err := api.Invoke(inv)
	if err != nil {
		return ResourceManager{}, nil, err
	}
	resource, err := decodeOutput[types.NodeId](out)
	if err != nil {
		return ResourceManager{}, nil, err
	}
	if len(out.Owned) == 0 {
		return ResourceManager{Address: resource}, nil, nil
	}
	return ResourceManager{Address: resource}, &Bucket{Id: out.Owned[0]}, nil
}

func (m ResourceManager) Mint(api kernel.Api, amount types.Decimal) (Bucket, error) {
	out, err := callMethod(api, m.Address, "mint", &AmountArgs{Amount: amount})
	if err != nil {
		return Bucket{}, err
	}
	id, err := oneOwned(out, "bucket")
	return Bucket{Id: id}, err
}

func (m ResourceManager) MintNonFungible(api kernel.Api, ids []types.NonFungibleLocalId, data [][]byte) (Bucket, error) {
	out, err := callMethod(api, m.Address, "mint_non_fungible", &MintNonFungibleArgs{Ids: ids, Data: data})
	if err != nil {
		return Bucket{}, err
	}
	id, err := oneOwned(out, "bucket")
	return Bucket{Id: id}, err
}

func (m ResourceManager) Burn(api kernel.Api, bucket Bucket) error {
	_, err := callMethod(api, m.Address, "burn", nil, bucket.Id)
	return err
}

func (m ResourceManager) CreateEmptyBucket(api kernel.Api) (Bucket, error) {
	out, err := callMethod(api, m.Address, "create_empty_bucket", nil)
	if err != nil {
		return Bucket{}, err
	}
	id, err := oneOwned(out, "bucket")
	return Bucket{Id: id}, err
}

func (m ResourceManager) CreateEmptyVault(api kernel.Api) (Vault, error) {
	out, err := callMethod(api, m.Address, "create_empty_vault", nil)
	if err != nil {
		return Vault{}, err
	}
	id, err := oneOwned(out, "vault")
	return Vault{Id: id}, err
}

func (m ResourceManager) TotalSupply(api kernel.Api) (types.Decimal, error) {
	out, err := callMethod(api, m.Address, "get_total_supply", nil)
	if err != nil {
		return types.Decimal{}, err
	}
	return decodeOutput[types.Decimal](out)
}

func (m ResourceManager) NonFungibleData(api kernel.Api, id types.NonFungibleLocalId) ([]byte, error) {
	out, err := callMethod(api, m.Address, "get_non_fungible_data", &IdArgs{Id: id})
	if err != nil {
		return nil, err
	}
	return decodeOutput[[]byte](out)
}

// container is the client surface shared by buckets and vaults.
type container types.NodeId

func (c container) take(api kernel.Api, amount types.Decimal, strategy WithdrawStrategy) (Bucket, error) {
	out, err := callMethod(api, types.NodeId(c), "take", &TakeArgs{Amount: amount, Strategy: strategy})
	if err != nil {
		return Bucket{}, err
	}
	id, err := oneOwned(out, "bucket")
	return Bucket{Id: id}, err
}

func (c container) takeNonFungibles(api kernel.Api, ids []types.NonFungibleLocalId) (Bucket, error) {
	out, err := callMethod(api, types.NodeId(c), "take_non_fungibles", &IdsArgs{Ids: ids})
	if err != nil {
		return Bucket{}, err
	}
	id, err := oneOwned(out, "bucket")
	return Bucket{Id: id}, err
}

func (c container) put(api kernel.Api, bucket Bucket) error {
	_, err := callMethod(api, types.NodeId(c), "put", nil, bucket.Id)
	return err
}

func (c container) amount(api kernel.Api) (types.Decimal, error) {
	out, err := callMethod(api, types.NodeId(c), "get_amount", nil)
	if err != nil {
		return types.Decimal{}, err
	}
	return decodeOutput[types.Decimal](out)
}

func (c container) ids(api kernel.Api) ([]types.NonFungibleLocalId, error) {
	out, err := callMethod(api, types.NodeId(c), "get_non_fungible_local_ids", nil)
	if err != nil {
		return nil, err
	}
	return decodeOutput[[]types.NonFungibleLocalId](out)
}

func (c container) resource(api kernel.Api) (types.ResourceAddress, error) {
	out, err := callMethod(api, types.NodeId(c), "get_resource_address", nil)
	if err != nil {
		return types.ResourceAddress{}, err
	}
	return decodeOutput[types.ResourceAddress](out)
}

func (c container) proof(api kernel.Api, ident string, args any) (Proof, error) {
	out, err := callMethod(api, types.NodeId(c), ident, args)
	if err != nil {
		return Proof{}, err
	}
	id, err := oneOwned(out, "proof")
	return Proof{Id: id}, err
}

func (b Bucket) Take(api kernel.Api, amount types.Decimal) (Bucket, error) {
	return container(b.Id).take(api, amount, Exact)
}

func (b Bucket) TakeAdvanced(api kernel.Api, amount types.Decimal, strategy WithdrawStrategy) (Bucket, error) {
	return container(b.Id).take(api, amount, strategy)
}

func (b Bucket) TakeNonFungibles(api kernel.Api, ids ...types.NonFungibleLocalId) (Bucket, error) {
	return container(b.Id).takeNonFungibles(api, ids)
}

func (b Bucket) Put(api kernel.Api, other Bucket) error { return container(b.Id).put(api, other) }

func (b Bucket) Amount(api kernel.Api) (types.Decimal, error) { return container(b.Id).amount(api) }

func (b Bucket) NonFungibleLocalIds(api kernel.Api) ([]types.NonFungibleLocalId, error) {
	return container(b.Id).ids(api)
}

func (b Bucket) ResourceAddress(api kernel.Api) (types.ResourceAddress, error) {
	return container(b.Id).resource(api)
}

func (b Bucket) CreateProofOfAll(api kernel.Api) (Proof, error) {
	return container(b.Id).proof(api, "create_proof_of_all", nil)
}

func (b Bucket) CreateProofOfAmount(api kernel.Api, amount types.Decimal) (Proof, error) {
	return container(b.Id).proof(api, "create_proof_of_amount", &AmountArgs{Amount: amount})
}

func (b Bucket) CreateProofOfNonFungibles(api kernel.Api, ids ...types.NonFungibleLocalId) (Proof, error) {
	return container(b.Id).proof(api, "create_proof_of_non_fungibles", &IdsArgs{Ids: ids})
}

// Drop destroys an empty bucket.
func (b Bucket) Drop(api kernel.Api) error {
	_, err := callFunction(api, BucketBlueprint, "drop_empty", nil, b.Id)
	return err
}

func (v Vault) Take(api kernel.Api, amount types.Decimal) (Bucket, error) {
	return container(v.Id).take(api, amount, Exact)
}

func (v Vault) TakeAdvanced(api kernel.Api, amount types.Decimal, strategy WithdrawStrategy) (Bucket, error) {
	return container(v.Id).take(api, amount, strategy)
}

func (v Vault) TakeNonFungibles(api kernel.Api, ids ...types.NonFungibleLocalId) (Bucket, error) {
	return container(v.Id).takeNonFungibles(api, ids)
}

func (v Vault) Put(api kernel.Api, bucket Bucket) error { return container(v.Id).put(api, bucket) }

func (v Vault) Amount(api kernel.Api) (types.Decimal, error) { return container(v.Id).amount(api) }

func (v Vault) NonFungibleLocalIds(api kernel.Api) ([]types.NonFungibleLocalId, error) {
	return container(v.Id).ids(api)
}

func (v Vault) ResourceAddress(api kernel.Api) (types.ResourceAddress, error) {
	return container(v.Id).resource(api)
}

func (v Vault) CreateProofOfAll(api kernel.Api) (Proof, error) {
	return container(v.Id).proof(api, "create_proof_of_all", nil)
}

func (v Vault) CreateProofOfAmount(api kernel.Api, amount types.Decimal) (Proof, error) {
	return container(v.Id).proof(api, "create_proof_of_amount", &AmountArgs{Amount: amount})
}

func (v Vault) CreateProofOfNonFungibles(api kernel.Api, ids ...types.NonFungibleLocalId) (Proof, error) {
	return container(v.Id).proof(api, "create_proof_of_non_fungibles", &IdsArgs{Ids: ids})
}

func (v Vault) LockFee(api kernel.Api, amount types.Decimal) error {
	_, err := callMethod(api, v.Id, "lock_fee", &AmountArgs{Amount: amount})
	return err
}

func (v Vault) LockContingentFee(api kernel.Api, amount types.Decimal) error {
	_, err := callMethod(api, v.Id, "lock_contingent_fee", &AmountArgs{Amount: amount})
	return err
}

func (p Proof) Clone(api kernel.Api) (Proof, error) {
	out, err := callMethod(api, p.Id, "clone", nil)
	if err != nil {
		return Proof{}, err
	}
	id, err := oneOwned(out, "proof")
	return Proof{Id: id}, err
}

func (p Proof) Drop(api kernel.Api) error {
	_, err := callFunction(api, ProofBlueprint, "drop", nil, p.Id)
	return err
}

func (p Proof) Amount(api kernel.Api) (types.Decimal, error) {
	out, err := callMethod(api, p.Id, "get_amount", nil)
	if err != nil {
		return types.Decimal{}, err
	}
	return decodeOutput[types.Decimal](out)
}

func (p Proof) NonFungibleLocalIds(api kernel.Api) ([]types.NonFungibleLocalId, error) {
	out, err := callMethod(api, p.Id, "get_non_fungible_local_ids", nil)
	if err != nil {
		return nil, err
	}
	return decodeOutput[[]types.NonFungibleLocalId](out)
}

func (p Proof) ResourceAddress(api kernel.Api) (types.ResourceAddress, error) {
	out, err := callMethod(api, p.Id, "get_resource_address", nil)
	if err != nil {
		return types.ResourceAddress{}, err
	}
	return decodeOutput[types.ResourceAddress](out)
}
