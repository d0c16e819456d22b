package account

import (
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
	"ledgerengine/native/resource"
)

// Account is a client handle for a global account component.
type Account struct{ Address types.NodeId }

// New creates an account guarded by owner. A non-nil address must have been
// preallocated by the caller.
func New(api kernel.Api, owner resource.AccessRule, address *types.NodeId) (Account, error) {
	args, err := common.Encode(&NewArgs{Owner: owner})
	if err != nil {
		return Account{}, err
	}
	inv := kernel.FunctionInvocation(blueprint(), "new", args)
	if address != nil {
		inv.Addresses = []types.NodeId{*address}
	}
	out, err := api.Invoke(inv)
	if err != nil {
		return Account{}, err
	}
	var id types.NodeId
	if err := common.Decode(out.Data, &id); err != nil {
		return Account{}, err
	}
	return Account{Address: id}, nil
}

func (a Account) call(api kernel.Api, ident string, args any, owned ...types.NodeId) (*kernel.Output, error) {
	var encoded []byte
	if args != nil {
		var err error
		if encoded, err = common.Encode(args); err != nil {
			return nil, err
		}
	}
	return api.Invoke(kernel.MethodInvocation(a.Address, ident, encoded, owned...))
}

func single(out *kernel.Output, what string) (types.NodeId, error) {
	if len(out.Owned) != 1 {
		return types.NodeId{}, fmt.Errorf("%w: expected one %s, got %d nodes", kernel.ErrInvalidInvocation, what, len(out.Owned))
	}
	return out.Owned[0], nil
}

func (a Account) Deposit(api kernel.Api, bucket resource.Bucket) error {
	_, err := a.call(api, "deposit", nil, bucket.Id)
	return err
}

func (a Account) DepositBatch(api kernel.Api, buckets ...resource.Bucket) error {
	ids := make([]types.NodeId, len(buckets))
	for i, b := range buckets {
		ids[i] = b.Id
	}
	_, err := a.call(api, "deposit_batch", nil, ids...)
	return err
}

func (a Account) Withdraw(api kernel.Api, r types.ResourceAddress, amount types.Decimal) (resource.Bucket, error) {
	out, err := a.call(api, "withdraw", &WithdrawArgs{Resource: r, Amount: amount})
	if err != nil {
		return resource.Bucket{}, err
	}
	id, err := single(out, "bucket")
	return resource.Bucket{Id: id}, err
}

func (a Account) WithdrawNonFungibles(api kernel.Api, r types.ResourceAddress, ids ...types.NonFungibleLocalId) (resource.Bucket, error) {
	out, err := a.call(api, "withdraw_non_fungibles", &WithdrawNonFungiblesArgs{Resource: r, Ids: ids})
	if err != nil {
		return resource.Bucket{}, err
	}
	id, err := single(out, "bucket")
	return resource.Bucket{Id: id}, err
}

func (a Account) LockFee(api kernel.Api, amount types.Decimal) error {
	_, err := a.call(api, "lock_fee", &resource.AmountArgs{Amount: amount})
	return err
}

func (a Account) LockContingentFee(api kernel.Api, amount types.Decimal) error {
	_, err := a.call(api, "lock_contingent_fee", &resource.AmountArgs{Amount: amount})
	return err
}

func (a Account) CreateProofOfAmount(api kernel.Api, r types.ResourceAddress, amount types.Decimal) (resource.Proof, error) {
	out, err := a.call(api, "create_proof_of_amount", &WithdrawArgs{Resource: r, Amount: amount})
	if err != nil {
		return resource.Proof{}, err
	}
	id, err := single(out, "proof")
	return resource.Proof{Id: id}, err
}

func (a Account) Balance(api kernel.Api, r types.ResourceAddress) (types.Decimal, error) {
	out, err := a.call(api, "balance", &ResourceArgs{Resource: r})
	if err != nil {
		return types.Decimal{}, err
	}
	var amount types.Decimal
	err = common.Decode(out.Data, &amount)
	return amount, err
}
