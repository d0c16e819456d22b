package resource

import (
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

// Fee settlement runs after the kernel has finished, directly against the
// track.

func mainField(node types.NodeId) types.SubstateAddress {
	return types.SubstateAddress{Node: node, Partition: types.PartitionMain, Key: types.FieldKey(0)}
}

func modifyTracked(track *kernel.Track, node types.NodeId, v any, fn func() error) error {
	addr := mainField(node)
	raw, ok, err := track.Get(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", kernel.ErrNodeNotFound, node)
	}
	if err := common.Decode(raw, v); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	encoded, err := common.Encode(v)
	if err != nil {
		return err
	}
	track.Set(addr, encoded)
	return nil
}

// CreditVault returns amount to a fungible vault.
func CreditVault(track *kernel.Track, vault types.NodeId, amount types.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	var c Container
	return modifyTracked(track, vault, &c, func() error {
		if !c.Fungible {
			return ErrNotFungible
		}
		liquid, err := c.Liquid.Add(amount)
		if err != nil {
			return err
		}
		c.Liquid = liquid
		return nil
	})
}

// DebitVault removes amount from a fungible vault.
func DebitVault(track *kernel.Track, vault types.NodeId, amount types.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	var c Container
	return modifyTracked(track, vault, &c, func() error {
		if !c.Fungible {
			return ErrNotFungible
		}
		liquid, err := c.Liquid.Sub(amount)
		if err != nil {
			return fmt.Errorf("%w: vault holds %s, fee is %s", ErrInsufficientBalance, c.Liquid, amount)
		}
		c.Liquid = liquid
		return nil
	})
}

// BurnSupply removes collected fees from the resource's total supply.
func BurnSupply(track *kernel.Track, resource types.ResourceAddress, amount types.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	var state ManagerState
	return modifyTracked(track, resource, &state, func() error {
		supply, err := state.TotalSupply.Sub(amount)
		if err != nil {
			return err
		}
		state.TotalSupply = supply
		return nil
	})
}

// VaultBalance reads the liquid balance of a vault from track.
func VaultBalance(track *kernel.Track, vault types.NodeId) (types.Decimal, error) {
	raw, ok, err := track.Get(mainField(vault))
	if err != nil {
		return types.Decimal{}, err
	}
	if !ok {
		return types.Decimal{}, fmt.Errorf("%w: %s", kernel.ErrNodeNotFound, vault)
	}
	var c Container
	if err := common.Decode(raw, &c); err != nil {
		return types.Decimal{}, err
	}
	return c.Amount(), nil
}
