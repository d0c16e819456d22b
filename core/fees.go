package core

import (
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/resource"
)

// FeeConfig prices a transaction.
type FeeConfig struct {
	ExecutionCostUnitLimit    uint64
	FinalizationCostUnitLimit uint64
	// SystemLoan is the number of execution units advanced before any fee is
	// locked.
	SystemLoan    uint64
	CostUnitPrice types.Decimal
	// StateUpdateCost and StateByteCost price finalization per committed
	// substate and per written byte.
	StateUpdateCost uint64
	StateByteCost   uint64
	FeeResource     types.ResourceAddress
}

// DefaultFeeConfig returns the limits used when no configuration is given.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		ExecutionCostUnitLimit:    100_000_000,
		FinalizationCostUnitLimit: 50_000_000,
		SystemLoan:                50_000,
		CostUnitPrice:             types.MustParseDecimal("0.00001"),
		StateUpdateCost:           100,
		StateByteCost:             1,
		FeeResource:               resource.NativeTokenAddress,
	}
}

// Validate rejects unusable limits.
func (c FeeConfig) Validate() error {
	switch {
	case c.ExecutionCostUnitLimit == 0:
		return fmt.Errorf("%w: execution cost unit limit must be positive", ErrInvalidFeeConfig)
	case c.FinalizationCostUnitLimit == 0:
		return fmt.Errorf("%w: finalization cost unit limit must be positive", ErrInvalidFeeConfig)
	case c.SystemLoan > c.ExecutionCostUnitLimit:
		return fmt.Errorf("%w: system loan %d exceeds execution limit %d", ErrInvalidFeeConfig, c.SystemLoan, c.ExecutionCostUnitLimit)
	case c.FeeResource.EntityType() != types.EntityGlobalFungibleResourceManager:
		return fmt.Errorf("%w: fee resource %s is not fungible", ErrInvalidFeeConfig, c.FeeResource.Short())
	}
	return nil
}

// FeeReserve meters one transaction. It implements kernel.Costing.
type FeeReserve struct {
	cfg FeeConfig

	execution    uint64
	finalization uint64
	repaid       bool

	locked     types.Decimal
	contingent types.Decimal
	payments   []types.FeePayment
}

var _ kernel.Costing = (*FeeReserve)(nil)

func NewFeeReserve(cfg FeeConfig) *FeeReserve {
	return &FeeReserve{cfg: cfg}
}

func (r *FeeReserve) cost(units uint64) (types.Decimal, error) {
	return r.cfg.CostUnitPrice.MulUint64(units)
}

func (r *FeeReserve) totalCost() (types.Decimal, error) {
	return r.cost(r.execution + r.finalization)
}

// ConsumeExecution charges units of execution. Until the loan is repaid the
// units come out of the system loan.
func (r *FeeReserve) ConsumeExecution(reason string, units uint64) error {
	total := r.execution + units
	if total < r.execution || total > r.cfg.ExecutionCostUnitLimit {
		r.execution = r.cfg.ExecutionCostUnitLimit
		return fmt.Errorf("%w: %s pushes execution past %d units", ErrCostLimitExceeded, reason, r.cfg.ExecutionCostUnitLimit)
	}
	r.execution = total
	if !r.repaid {
		if r.execution > r.cfg.SystemLoan {
			return fmt.Errorf("%w: %d units consumed against a loan of %d", ErrLoanNotRepaid, r.execution, r.cfg.SystemLoan)
		}
		return nil
	}
	return r.checkCovered()
}

// ConsumeFinalization charges for committing updates.
func (r *FeeReserve) ConsumeFinalization(updates []types.StateUpdate) error {
	var bytes uint64
	for _, u := range updates {
		bytes += uint64(len(u.Value))
	}
	units := uint64(len(updates))*r.cfg.StateUpdateCost + bytes*r.cfg.StateByteCost
	total := r.finalization + units
	if total < r.finalization || total > r.cfg.FinalizationCostUnitLimit {
		r.finalization = r.cfg.FinalizationCostUnitLimit
		return fmt.Errorf("%w: finalization needs %d units, limit %d", ErrCostLimitExceeded, units, r.cfg.FinalizationCostUnitLimit)
	}
	r.finalization = total
	return r.checkCovered()
}

func (r *FeeReserve) checkCovered() error {
	cost, err := r.totalCost()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFee, err)
	}
	available, err := r.locked.Add(r.contingent)
	if err != nil {
		return err
	}
	if cost.GreaterThan(available) {
		return fmt.Errorf("%w: cost %s, locked %s", ErrInsufficientFee, cost, available)
	}
	return nil
}

// LockFee records fee withdrawn from a vault. A non-contingent lock that
// covers the units consumed so far repays the loan.
func (r *FeeReserve) LockFee(vault, res types.NodeId, amount types.Decimal, contingent bool) error {
	if res != r.cfg.FeeResource {
		return fmt.Errorf("%w: vault %s holds %s", ErrInvalidFeeVault, vault.Short(), res.Short())
	}
	var err error
	if contingent {
		r.contingent, err = r.contingent.Add(amount)
	} else {
		r.locked, err = r.locked.Add(amount)
	}
	if err != nil {
		return err
	}
	r.payments = append(r.payments, types.FeePayment{Vault: vault, Amount: amount, Contingent: contingent})
	r.tryRepay()
	return nil
}

func (r *FeeReserve) tryRepay() {
	if r.repaid {
		return
	}
	owed, err := r.cost(r.execution)
	if err != nil {
		return
	}
	if !owed.GreaterThan(r.locked) {
		r.repaid = true
	}
}

// Repay makes a final attempt to repay the loan. It fails if the fee locked
// without contingency does not cover the execution consumed.
func (r *FeeReserve) Repay() error {
	r.tryRepay()
	if !r.repaid {
		return fmt.Errorf("%w: %d units consumed, %s locked", ErrLoanNotRepaid, r.execution, r.locked)
	}
	return nil
}

func (r *FeeReserve) LoanRepaid() bool { return r.repaid }

func (r *FeeReserve) ExecutionConsumed() uint64 { return r.execution }

func (r *FeeReserve) FinalizationConsumed() uint64 { return r.finalization }

// FeeCharge is the settlement of one payment.
type FeeCharge struct {
	Vault      types.NodeId
	Locked     types.Decimal
	Charged    types.Decimal
	Contingent bool
}

// Refund is the part of the lock returned to the vault on success.
func (c FeeCharge) Refund() types.Decimal {
	refund, err := c.Locked.Sub(c.Charged)
	if err != nil {
		return types.Decimal{}
	}
	return refund
}

// FeeSettlement splits the total cost across the payments.
type FeeSettlement struct {
	Charges   []FeeCharge
	TotalCost types.Decimal
	Collected types.Decimal
}

// Settle charges the total cost against payments in lock order. Contingent
// payments are only charged when the transaction succeeded.
func (r *FeeReserve) Settle(success bool) (FeeSettlement, error) {
	total, err := r.totalCost()
	if err != nil {
		return FeeSettlement{}, err
	}
	out := FeeSettlement{TotalCost: total}
	remaining := total
	for _, p := range r.payments {
		charge := FeeCharge{Vault: p.Vault, Locked: p.Amount, Contingent: p.Contingent}
		if success || !p.Contingent {
			charge.Charged = remaining.Min(p.Amount)
			if remaining, err = remaining.Sub(charge.Charged); err != nil {
				return FeeSettlement{}, err
			}
			if out.Collected, err = out.Collected.Add(charge.Charged); err != nil {
				return FeeSettlement{}, err
			}
		}
		out.Charges = append(out.Charges, charge)
	}
	return out, nil
}

// Summary reports the reserve in receipt form.
func (r *FeeReserve) Summary(collected types.Decimal) types.FeeSummary {
	total, err := r.totalCost()
	if err != nil {
		total = types.Decimal{}
	}
	locked, err := r.locked.Add(r.contingent)
	if err != nil {
		locked = r.locked
	}
	return types.FeeSummary{
		ExecutionCostUnitsConsumed:    r.execution,
		FinalizationCostUnitsConsumed: r.finalization,
		ExecutionCostUnitLimit:        r.cfg.ExecutionCostUnitLimit,
		FinalizationCostUnitLimit:     r.cfg.FinalizationCostUnitLimit,
		CostUnitPrice:                 r.cfg.CostUnitPrice,
		TotalCost:                     total,
		LockedFee:                     locked,
		CollectedFee:                  collected,
		LoanFullyRepaid:               r.repaid,
		Payments:                      append([]types.FeePayment(nil), r.payments...),
	}
}
