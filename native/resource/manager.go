package resource

import (
	"fmt"

	"ledgerengine/core/events"
	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

func preallocated(inv *kernel.Invocation, entity types.EntityType) (*types.NodeId, error) {
	if len(inv.Addresses) == 0 {
		return nil, nil
	}
	address := inv.Addresses[0]
	if address.EntityType() != entity {
		return nil, fmt.Errorf("%w: address %s is a %s, want %s", kernel.ErrInvalidInvocation, address.Short(), address.EntityType(), entity)
	}
	return &address, nil
}

func createFungible(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args CreateFungibleArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	if args.Divisibility > types.DecimalPlaces {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDivisibility, args.Divisibility)
	}
	if !args.InitialSupply.CheckDivisibility(args.Divisibility) {
		return nil, fmt.Errorf("%w: initial supply %s exceeds divisibility %d", ErrInvalidAmount, args.InitialSupply, args.Divisibility)
	}
	address, err := preallocated(inv, types.EntityGlobalFungibleResourceManager)
	if err != nil {
		return nil, err
	}
	state := &ManagerState{
		Fungible:     true,
		Divisibility: args.Divisibility,
		TotalSupply:  args.InitialSupply,
		Rules:        args.Rules,
	}
	object, err := system.NewObject(api, system.ObjectSpec{
		Entity:    types.EntityInternalGenericComponent,
		Blueprint: blueprint(ResourceManagerBlueprint),
		Fields:    []any{state},
	})
	if err != nil {
		return nil, err
	}
	resource, err := system.Globalize(api, object, types.EntityGlobalFungibleResourceManager, address)
	if err != nil {
		return nil, err
	}
	if args.InitialSupply.IsZero() {
		return system.EncodeOutput(resource)
	}
	bucket, err := newBucket(api, resource, newFungibleContainer(args.InitialSupply))
	if err != nil {
		return nil, err
	}
	if err := emit(api, events.ResourceMinted{Resource: resource, Amount: args.InitialSupply}); err != nil {
		return nil, err
	}
	return system.EncodeOutput(resource, bucket)
}

func nonFungibleEntries(ids []types.NonFungibleLocalId, data [][]byte) (kernel.NodeSubstates, error) {
	if len(data) != 0 && len(data) != len(ids) {
		return nil, fmt.Errorf("%w: %d ids with %d data entries", kernel.ErrInvalidInvocation, len(ids), len(data))
	}
	entries := make(kernel.NodeSubstates)
	for i, id := range ids {
		if err := id.Validate(); err != nil {
			return nil, err
		}
		key := types.MapKey([]byte(id))
		if _, dup := entries.Get(types.PartitionNonFungibleData, key); dup {
			return nil, fmt.Errorf("%w: %s", ErrNonFungibleExists, id)
		}
		var payload []byte
		if len(data) > 0 {
			payload = data[i]
		}
		encoded, err := common.Encode(payload)
		if err != nil {
			return nil, err
		}
		entries.Set(types.PartitionNonFungibleData, key, encoded)
	}
	return entries, nil
}

func createNonFungible(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args CreateNonFungibleArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	entries, err := nonFungibleEntries(args.Ids, args.Data)
	if err != nil {
		return nil, err
	}
	address, err := preallocated(inv, types.EntityGlobalNonFungibleResourceManager)
	if err != nil {
		return nil, err
	}
	state := &ManagerState{
		TotalSupply: types.NewDecimal(uint64(len(args.Ids))),
		Rules:       args.Rules,
	}
	object, err := system.NewObject(api, system.ObjectSpec{
		Entity:    types.EntityInternalGenericComponent,
		Blueprint: blueprint(ResourceManagerBlueprint),
		Fields:    []any{state},
		Extra:     entries,
	})
	if err != nil {
		return nil, err
	}
	resource, err := system.Globalize(api, object, types.EntityGlobalNonFungibleResourceManager, address)
	if err != nil {
		return nil, err
	}
	if len(args.Ids) == 0 {
		return system.EncodeOutput(resource)
	}
	bucket, err := newBucket(api, resource, newNonFungibleContainer(args.Ids))
	if err != nil {
		return nil, err
	}
	if err := emit(api, events.ResourceMinted{Resource: resource, Amount: state.TotalSupply, Ids: args.Ids}); err != nil {
		return nil, err
	}
	return system.EncodeOutput(resource, bucket)
}

func mint(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args AmountArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	var state ManagerState
	err = system.ModifyField(api, self, 0, &state, func() error {
		if !state.Fungible {
			return ErrNotFungible
		}
		if err := checkAccess(api, state.Rules.Mint); err != nil {
			return err
		}
		if args.Amount.IsZero() || !args.Amount.CheckDivisibility(state.Divisibility) {
			return fmt.Errorf("%w: cannot mint %s", ErrInvalidAmount, args.Amount)
		}
		supply, err := state.TotalSupply.Add(args.Amount)
		if err != nil {
			return err
		}
		state.TotalSupply = supply
		return nil
	})
	if err != nil {
		return nil, err
	}
	bucket, err := newBucket(api, self, newFungibleContainer(args.Amount))
	if err != nil {
		return nil, err
	}
	if err := emit(api, events.ResourceMinted{Resource: self, Amount: args.Amount}); err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{bucket}}, nil
}

func mintNonFungible(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args MintNonFungibleArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	if len(args.Ids) == 0 {
		return nil, fmt.Errorf("%w: no ids to mint", ErrInvalidAmount)
	}
	entries, err := nonFungibleEntries(args.Ids, args.Data)
	if err != nil {
		return nil, err
	}
	var state ManagerState
	err = system.ModifyField(api, self, 0, &state, func() error {
		if state.Fungible {
			return ErrNotNonFungible
		}
		if err := checkAccess(api, state.Rules.Mint); err != nil {
			return err
		}
		for _, id := range args.Ids {
			payload, _ := entries.Get(types.PartitionNonFungibleData, types.MapKey([]byte(id)))
			if err := insertNonFungible(api, self, id, payload); err != nil {
				return err
			}
		}
		supply, err := state.TotalSupply.Add(types.NewDecimal(uint64(len(args.Ids))))
		if err != nil {
			return err
		}
		state.TotalSupply = supply
		return nil
	})
	if err != nil {
		return nil, err
	}
	bucket, err := newBucket(api, self, newNonFungibleContainer(args.Ids))
	if err != nil {
		return nil, err
	}
	if err := emit(api, events.ResourceMinted{Resource: self, Amount: types.NewDecimal(uint64(len(args.Ids))), Ids: args.Ids}); err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{bucket}}, nil
}

func insertNonFungible(api kernel.Api, resource types.ResourceAddress, id types.NonFungibleLocalId, payload []byte) error {
	h, err := api.LockSubstate(resource, types.PartitionNonFungibleData, types.MapKey([]byte(id)), kernel.LockWrite)
	if err != nil {
		return err
	}
	defer api.DropLock(h)
	existing, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrNonFungibleExists, id)
	}
	return api.WriteSubstate(h, payload)
}

func removeNonFungible(api kernel.Api, resource types.ResourceAddress, id types.NonFungibleLocalId) error {
	h, err := api.LockSubstate(resource, types.PartitionNonFungibleData, types.MapKey([]byte(id)), kernel.LockWrite)
	if err != nil {
		return err
	}
	defer api.DropLock(h)
	return api.WriteSubstate(h, nil)
}

func burn(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	bucket, err := singleOwned(inv)
	if err != nil {
		return nil, err
	}
	state, err := readManager(api, self)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(api, state.Rules.Burn); err != nil {
		return nil, err
	}
	c, err := drainBucket(api, bucket, self)
	if err != nil {
		return nil, err
	}
	amount := c.Amount()
	err = system.ModifyField(api, self, 0, state, func() error {
		supply, err := state.TotalSupply.Sub(amount)
		if err != nil {
			return err
		}
		state.TotalSupply = supply
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range c.Ids {
		if err := removeNonFungible(api, self, id); err != nil {
			return nil, err
		}
	}
	if err := emit(api, events.ResourceBurned{Resource: self, Amount: amount, Ids: c.Ids}); err != nil {
		return nil, err
	}
	return &kernel.Output{}, nil
}

func createEmptyBucket(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readManager(api, self)
	if err != nil {
		return nil, err
	}
	bucket, err := newBucket(api, self, &Container{Fungible: state.Fungible})
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{bucket}}, nil
}

func createEmptyVault(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readManager(api, self)
	if err != nil {
		return nil, err
	}
	vault, err := newVault(api, self, state.Fungible)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{vault}}, nil
}

func getTotalSupply(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readManager(api, self)
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(state.TotalSupply)
}

func getNonFungibleData(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args IdArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	h, err := api.LockSubstate(self, types.PartitionNonFungibleData, types.MapKey([]byte(args.Id)), kernel.LockRead)
	if err != nil {
		return nil, err
	}
	defer api.DropLock(h)
	raw, err := api.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNonFungibleLocalIdNotFound, args.Id)
	}
	return &kernel.Output{Data: raw}, nil
}
