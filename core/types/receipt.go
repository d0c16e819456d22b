package types

// TransactionStatus tracks a transaction through the executor.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusExecuting TransactionStatus = "executing"
	StatusCommitted TransactionStatus = "committed"
	StatusRejected  TransactionStatus = "rejected"
	StatusAborted   TransactionStatus = "aborted"
)

// Outcome is the result of a committed transaction.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// FeePayment records a vault that locked fee.
type FeePayment struct {
	Vault      NodeId  `json:"vault"`
	Amount     Decimal `json:"amount"`
	Contingent bool    `json:"contingent"`
}

// FeeSummary is the fee section of a receipt.
type FeeSummary struct {
	ExecutionCostUnitsConsumed    uint64       `json:"executionCostUnitsConsumed"`
	FinalizationCostUnitsConsumed uint64       `json:"finalizationCostUnitsConsumed"`
	ExecutionCostUnitLimit        uint64       `json:"executionCostUnitLimit"`
	FinalizationCostUnitLimit     uint64       `json:"finalizationCostUnitLimit"`
	CostUnitPrice                 Decimal      `json:"costUnitPrice"`
	TotalCost                     Decimal      `json:"totalCost"`
	LockedFee                     Decimal      `json:"lockedFee"`
	CollectedFee                  Decimal      `json:"collectedFee"`
	LoanFullyRepaid               bool         `json:"loanFullyRepaid"`
	Payments                      []FeePayment `json:"payments,omitempty"`
}

// StateUpdate describes one committed substate change.
type StateUpdate struct {
	Address SubstateAddress `json:"-"`
	Value   []byte          `json:"-"`
	Delete  bool            `json:"-"`
}

// Receipt is the result of executing a transaction.
type Receipt struct {
	TransactionHash    Hash              `json:"transactionHash"`
	Status             TransactionStatus `json:"status"`
	Outcome            Outcome           `json:"outcome,omitempty"`
	Error              string            `json:"error,omitempty"`
	Outputs            []HexBytes        `json:"outputs,omitempty"`
	NewComponents      []NodeId          `json:"newComponents,omitempty"`
	NewResources       []NodeId          `json:"newResources,omitempty"`
	NewPackages        []NodeId          `json:"newPackages,omitempty"`
	Logs               []LogEntry        `json:"logs,omitempty"`
	Events             []Event           `json:"events,omitempty"`
	Fee                FeeSummary        `json:"fee"`
	StateVersion       uint64            `json:"stateVersion"`
	StateUpdateCount   int               `json:"stateUpdateCount"`
	StateUpdatesDigest Hash              `json:"stateUpdatesDigest"`
}

// IsCommitted reports whether the transaction changed the ledger.
func (r *Receipt) IsCommitted() bool { return r != nil && r.Status == StatusCommitted }

// IsSuccess reports whether the transaction committed successfully.
func (r *Receipt) IsSuccess() bool {
	return r.IsCommitted() && r.Outcome == OutcomeSuccess
}

// NewAddresses returns every global address created by the transaction.
func (r *Receipt) NewAddresses() []NodeId {
	out := make([]NodeId, 0, len(r.NewComponents)+len(r.NewResources)+len(r.NewPackages))
	out = append(out, r.NewPackages...)
	out = append(out, r.NewResources...)
	out = append(out, r.NewComponents...)
	return out
}
