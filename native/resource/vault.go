package resource

import (
	"fmt"

	"ledgerengine/core/events"
	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
)

// lockFee withdraws amount from the vault's liquid balance and pledges it to
// the fee reserve. The reserve returns any unspent part at finalization.
func lockFee(api kernel.Api, inv *kernel.Invocation, contingent bool) (*kernel.Output, error) {
	self, resource, err := selfAndResource(api)
	if err != nil {
		return nil, err
	}
	var args AmountArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	state, err := readManager(api, resource)
	if err != nil {
		return nil, err
	}
	if !state.Fungible {
		return nil, ErrNotFungible
	}
	if err := checkAccess(api, state.Rules.Withdraw); err != nil {
		return nil, err
	}
	if args.Amount.IsZero() {
		return nil, fmt.Errorf("%w: fee must be positive", ErrInvalidAmount)
	}
	var c Container
	err = system.ModifyField(api, self, 0, &c, func() error {
		if _, err := c.takeAmount(args.Amount); err != nil {
			return err
		}
		return api.LockFee(self, resource, args.Amount, contingent)
	})
	if err != nil {
		return nil, err
	}
	if err := emit(api, events.FeeLocked{Vault: self, Amount: args.Amount, Contingent: contingent}); err != nil {
		return nil, err
	}
	return &kernel.Output{}, nil
}
