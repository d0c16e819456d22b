package resource

import (
	"fmt"

	"ledgerengine/core/events"
	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
)

// containerMethods returns the methods shared by buckets and vaults. Vaults
// additionally enforce the resource's withdraw and deposit rules, emit
// movement events and can lock fees.
func containerMethods(vault bool) map[string]system.NativeFunc {
	methods := map[string]system.NativeFunc{
		"take": func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
			return takeFromContainer(api, inv, vault)
		},
		"take_non_fungibles": func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
			return takeNonFungiblesFromContainer(api, inv, vault)
		},
		"put": func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
			return putIntoContainer(api, inv, vault)
		},
		"get_amount":                    containerAmount,
		"get_non_fungible_local_ids":    containerIds,
		"get_resource_address":          containerResource,
		"create_proof_of_all":           createProofOfAll,
		"create_proof_of_amount":        createProofOfAmount,
		"create_proof_of_non_fungibles": createProofOfNonFungibles,
	}
	if vault {
		methods["lock_fee"] = func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
			return lockFee(api, inv, false)
		}
		methods["lock_contingent_fee"] = func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
			return lockFee(api, inv, true)
		}
	}
	return methods
}

// selfAndResource returns the receiving container and its resource.
func selfAndResource(api kernel.Api) (types.NodeId, types.ResourceAddress, error) {
	self, err := receiver(api)
	if err != nil {
		return types.NodeId{}, types.ResourceAddress{}, err
	}
	resource, err := api.OuterObject()
	if err != nil {
		return types.NodeId{}, types.ResourceAddress{}, err
	}
	return self, resource, nil
}

func takeFromContainer(api kernel.Api, inv *kernel.Invocation, vault bool) (*kernel.Output, error) {
	self, resource, err := selfAndResource(api)
	if err != nil {
		return nil, err
	}
	var args TakeArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	state, err := readManager(api, resource)
	if err != nil {
		return nil, err
	}
	if vault {
		if err := checkAccess(api, state.Rules.Withdraw); err != nil {
			return nil, err
		}
	}
	amount, err := args.Strategy.apply(args.Amount, state.divisibility())
	if err != nil {
		return nil, err
	}
	var (
		c     Container
		taken *Container
	)
	err = system.ModifyField(api, self, 0, &c, func() error {
		var err error
		taken, err = c.takeAmount(amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return finishTake(api, self, resource, taken, vault)
}

func takeNonFungiblesFromContainer(api kernel.Api, inv *kernel.Invocation, vault bool) (*kernel.Output, error) {
	self, resource, err := selfAndResource(api)
	if err != nil {
		return nil, err
	}
	var args IdsArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	if vault {
		state, err := readManager(api, resource)
		if err != nil {
			return nil, err
		}
		if err := checkAccess(api, state.Rules.Withdraw); err != nil {
			return nil, err
		}
	}
	var (
		c     Container
		taken *Container
	)
	err = system.ModifyField(api, self, 0, &c, func() error {
		var err error
		taken, err = c.takeIds(args.Ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return finishTake(api, self, resource, taken, vault)
}

func finishTake(api kernel.Api, self types.NodeId, resource types.ResourceAddress, taken *Container, vault bool) (*kernel.Output, error) {
	bucket, err := newBucket(api, resource, taken)
	if err != nil {
		return nil, err
	}
	if vault {
		if err := emit(api, events.VaultWithdraw{Vault: self, Amount: taken.Amount(), Ids: taken.Ids}); err != nil {
			return nil, err
		}
	}
	return &kernel.Output{Owned: []types.NodeId{bucket}}, nil
}

func putIntoContainer(api kernel.Api, inv *kernel.Invocation, vault bool) (*kernel.Output, error) {
	self, resource, err := selfAndResource(api)
	if err != nil {
		return nil, err
	}
	bucket, err := singleOwned(inv)
	if err != nil {
		return nil, err
	}
	if vault {
		state, err := readManager(api, resource)
		if err != nil {
			return nil, err
		}
		if err := checkAccess(api, state.Rules.Deposit); err != nil {
			return nil, err
		}
	}
	other, err := drainBucket(api, bucket, resource)
	if err != nil {
		return nil, err
	}
	var c Container
	if err := system.ModifyField(api, self, 0, &c, func() error { return c.put(other) }); err != nil {
		return nil, err
	}
	if vault {
		if err := emit(api, events.VaultDeposit{Vault: self, Amount: other.Amount(), Ids: other.Ids}); err != nil {
			return nil, err
		}
	}
	return &kernel.Output{}, nil
}

func containerAmount(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	c, err := readContainer(api, self)
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(c.Amount())
}

func containerIds(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	c, err := readContainer(api, self)
	if err != nil {
		return nil, err
	}
	if c.Fungible {
		return nil, ErrNotNonFungible
	}
	return system.EncodeOutput(c.AllIds())
}

func containerResource(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	resource, err := api.OuterObject()
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(resource)
}

func dropEmptyBucket(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	bucket, err := singleOwned(inv)
	if err != nil {
		return nil, err
	}
	if !bucket.EntityType().IsBucket() {
		return nil, fmt.Errorf("%w: %s is not a bucket", kernel.ErrInvalidInvocation, bucket.EntityType())
	}
	c, err := readContainer(api, bucket)
	if err != nil {
		return nil, err
	}
	if !c.IsEmpty() {
		return nil, fmt.Errorf("%w: bucket holds %s", ErrNotEmpty, c.Amount())
	}
	if c.IsLocked() {
		return nil, ErrContainerLocked
	}
	if _, err := api.DropNode(bucket); err != nil {
		return nil, err
	}
	return &kernel.Output{}, nil
}
