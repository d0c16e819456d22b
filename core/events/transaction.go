package events

import (
	"strconv"

	"ledgerengine/core/types"
)

const (
	// TypeTransactionExecuted is emitted by the executor for every receipt.
	TypeTransactionExecuted = "transaction.executed"
)

type TransactionExecuted struct {
	Hash         types.Hash
	Status       types.TransactionStatus
	Outcome      types.Outcome
	CostUnits    uint64
	StateVersion uint64
}

func (TransactionExecuted) EventType() string { return TypeTransactionExecuted }

func (e TransactionExecuted) Event() *types.Event {
	attrs := map[string]string{
		"hash":      "0x" + e.Hash.String(),
		"status":    string(e.Status),
		"costUnits": strconv.FormatUint(e.CostUnits, 10),
	}
	if e.Outcome != "" {
		attrs["outcome"] = string(e.Outcome)
	}
	if e.Status == types.StatusCommitted {
		attrs["stateVersion"] = strconv.FormatUint(e.StateVersion, 10)
	}
	return &types.Event{Type: TypeTransactionExecuted, Attributes: attrs}
}
