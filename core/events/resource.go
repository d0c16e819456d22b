package events

import (
	"strconv"

	"ledgerengine/core/types"
)

const (
	// TypeResourceMinted is emitted when new supply is created.
	TypeResourceMinted = "resource.minted"
	// TypeResourceBurned is emitted when supply is destroyed.
	TypeResourceBurned = "resource.burned"
	// TypeVaultDeposit is emitted when a bucket is put into a vault.
	TypeVaultDeposit = "vault.deposit"
	// TypeVaultWithdraw is emitted when resources leave a vault.
	TypeVaultWithdraw = "vault.withdraw"
	// TypeFeeLocked is emitted when a vault pledges transaction fee.
	TypeFeeLocked = "vault.fee_locked"
)

type ResourceMinted struct {
	Resource types.ResourceAddress
	Amount   types.Decimal
	Ids      []types.NonFungibleLocalId
}

func (ResourceMinted) EventType() string { return TypeResourceMinted }

func (e ResourceMinted) Event() *types.Event {
	attrs := map[string]string{
		"resource": e.Resource.String(),
		"amount":   formatAmount(e.Amount),
	}
	if len(e.Ids) > 0 {
		attrs["ids"] = formatIds(e.Ids)
	}
	return &types.Event{Type: TypeResourceMinted, Attributes: attrs}
}

type ResourceBurned struct {
	Resource types.ResourceAddress
	Amount   types.Decimal
	Ids      []types.NonFungibleLocalId
}

func (ResourceBurned) EventType() string { return TypeResourceBurned }

func (e ResourceBurned) Event() *types.Event {
	attrs := map[string]string{
		"resource": e.Resource.String(),
		"amount":   formatAmount(e.Amount),
	}
	if len(e.Ids) > 0 {
		attrs["ids"] = formatIds(e.Ids)
	}
	return &types.Event{Type: TypeResourceBurned, Attributes: attrs}
}

type VaultDeposit struct {
	Vault  types.NodeId
	Amount types.Decimal
	Ids    []types.NonFungibleLocalId
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *types.Event {
	attrs := map[string]string{"vault": e.Vault.String(), "amount": formatAmount(e.Amount)}
	if len(e.Ids) > 0 {
		attrs["ids"] = formatIds(e.Ids)
	}
	return &types.Event{Type: TypeVaultDeposit, Attributes: attrs}
}

type VaultWithdraw struct {
	Vault  types.NodeId
	Amount types.Decimal
	Ids    []types.NonFungibleLocalId
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *types.Event {
	attrs := map[string]string{"vault": e.Vault.String(), "amount": formatAmount(e.Amount)}
	if len(e.Ids) > 0 {
		attrs["ids"] = formatIds(e.Ids)
	}
	return &types.Event{Type: TypeVaultWithdraw, Attributes: attrs}
}

type FeeLocked struct {
	Vault      types.NodeId
	Amount     types.Decimal
	Contingent bool
}

func (FeeLocked) EventType() string { return TypeFeeLocked }

func (e FeeLocked) Event() *types.Event {
	return &types.Event{Type: TypeFeeLocked, Attributes: map[string]string{
		"vault":      e.Vault.String(),
		"amount":     formatAmount(e.Amount),
		"contingent": strconv.FormatBool(e.Contingent),
	}}
}
