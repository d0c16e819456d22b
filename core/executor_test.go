package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerengine/core/events"
	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/account"
	"ledgerengine/native/common"
	"ledgerengine/native/resource"
	"ledgerengine/storage"
)

const testNetwork = "localnet"

// probeHook is run by the probe's hook function.
var probeHook func()

type depthArgs struct {
	Remaining uint64
}

type unitsArgs struct {
	Units uint64
}

func probePackage() *system.Package {
	pkg := system.NewPackage("probe")
	return pkg.Add(&system.Blueprint{
		Name: "Probe",
		Functions: map[string]system.NativeFunc{
			"log": func(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
				return &kernel.Output{}, api.EmitLog(types.LogInfo, "probe called")
			},
			"panic": func(kernel.Api, *kernel.Invocation) (*kernel.Output, error) {
				panic("probe exploded")
			},
			"consume": func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
				var args unitsArgs
				if err := common.DecodeArgs(inv.Args, &args); err != nil {
					return nil, err
				}
				return &kernel.Output{}, api.ConsumeCost("probe", args.Units)
			},
			"recurse": func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
				var args depthArgs
				if err := common.DecodeArgs(inv.Args, &args); err != nil {
					return nil, err
				}
				if args.Remaining == 0 {
					return &kernel.Output{}, nil
				}
				next := common.MustEncode(&depthArgs{Remaining: args.Remaining - 1})
				return api.Invoke(kernel.FunctionInvocation(pkg.BlueprintId("Probe"), "recurse", next))
			},
			"hook": func(kernel.Api, *kernel.Invocation) (*kernel.Output, error) {
				if probeHook != nil {
					probeHook()
				}
				return &kernel.Output{}, nil
			},
		},
	})
}

type recordingSink struct {
	receipts []*types.Receipt
}

func (s *recordingSink) SaveReceipt(_ context.Context, r *types.Receipt) error {
	s.receipts = append(s.receipts, r)
	return nil
}

type harness struct {
	t       *testing.T
	exec    *Executor
	store   *storage.Store
	genesis *Genesis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Network = testNetwork
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	store := storage.NewStore(storage.NewMemDB())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger), WithPackages(probePackage())}, opts...)
	exec, err := NewExecutor(store, cfg, opts...)
	require.NoError(t, err)
	genesis, err := exec.Bootstrap(context.Background(), GenesisConfig{InitialSupply: dec("1000000")})
	require.NoError(t, err)
	return &harness{t: t, exec: exec, store: store, genesis: genesis}
}

func (h *harness) execute(instructions ...types.Instruction) *types.Receipt {
	h.t.Helper()
	receipt, err := h.exec.Execute(context.Background(), &types.Transaction{Network: testNetwork, Instructions: instructions})
	require.NoError(h.t, err)
	return receipt
}

func (h *harness) balance(address types.NodeId) types.Decimal {
	h.t.Helper()
	k := h.exec.newKernel(kernel.NewTrack(h.store), h.exec.logger, []byte("query"))
	amount, err := account.Account{Address: address}.Balance(k, resource.NativeTokenAddress)
	require.NoError(h.t, err)
	return amount
}

func (h *harness) supply() types.Decimal {
	h.t.Helper()
	k := h.exec.newKernel(kernel.NewTrack(h.store), h.exec.logger, []byte("query"))
	supply, err := resource.ResourceManager{Address: resource.NativeTokenAddress}.TotalSupply(k)
	require.NoError(h.t, err)
	return supply
}

func (h *harness) version() uint64 {
	h.t.Helper()
	v, err := h.store.Version()
	require.NoError(h.t, err)
	return v
}

func lockFee(address types.NodeId, amount string) types.Instruction {
	return types.Instruction{Op: types.OpLockFee, Address: address, Amount: dec(amount)}
}

func callProbe(function string, args any) types.Instruction {
	ins := types.Instruction{
		Op:        types.OpCallFunction,
		Package:   system.NativePackageAddress("probe"),
		Blueprint: "Probe",
		Function:  function,
	}
	if args != nil {
		ins.Args = common.MustEncode(args)
	}
	return ins
}

func withdraw(from types.NodeId, amount string) types.Instruction {
	return types.Instruction{
		Op:       types.OpCallMethod,
		Address:  from,
		Function: "withdraw",
		Args:     common.MustEncode(&account.WithdrawArgs{Resource: resource.NativeTokenAddress, Amount: dec(amount)}),
	}
}

func deposit(to types.NodeId, bucket string) types.Instruction {
	return types.Instruction{Op: types.OpCallMethod, Address: to, Function: "deposit", Buckets: []string{bucket}}
}

func newAccount() types.Instruction {
	return types.Instruction{
		Op:        types.OpCallFunction,
		Package:   account.PackageAddress,
		Blueprint: account.Blueprint,
		Function:  "new",
		Args:      common.MustEncode(&account.NewArgs{}),
	}
}

func sum(t *testing.T, values ...types.Decimal) types.Decimal {
	t.Helper()
	var total types.Decimal
	for _, v := range values {
		var err error
		total, err = total.Add(v)
		require.NoError(t, err)
	}
	return total
}

func TestBootstrapFundsGenesisAccount(t *testing.T) {
	h := newHarness(t, testConfig())
	require.Equal(t, uint64(1), h.genesis.StateVersion)
	require.Equal(t, resource.NativeTokenAddress, h.genesis.NativeToken)
	require.Len(t, h.genesis.Packages, 3)
	require.Equal(t, "1000000", h.balance(h.genesis.Account).String())
	require.Equal(t, "1000000", h.supply().String())

	_, err := h.exec.Bootstrap(context.Background(), GenesisConfig{InitialSupply: dec("1")})
	require.ErrorIs(t, err, ErrAlreadyBootstrapped)
}

func TestTransferBetweenAccounts(t *testing.T) {
	h := newHarness(t, testConfig())

	created := h.execute(lockFee(h.genesis.Account, "10"), newAccount())
	require.True(t, created.IsSuccess(), created.Error)
	require.Len(t, created.NewComponents, 1)
	alice := created.NewComponents[0]

	var fromOutput types.NodeId
	require.NoError(t, common.Decode(created.Outputs[1], &fromOutput))
	require.Equal(t, alice, fromOutput)

	transfer := h.execute(
		lockFee(h.genesis.Account, "10"),
		withdraw(h.genesis.Account, "250"),
		types.Instruction{Op: types.OpTakeFromWorktop, Resource: resource.NativeTokenAddress, Amount: dec("250"), Into: "payment"},
		deposit(alice, "payment"),
	)
	require.True(t, transfer.IsSuccess(), transfer.Error)
	require.Equal(t, uint64(3), transfer.StateVersion)
	require.NotZero(t, transfer.StateUpdateCount)
	require.False(t, transfer.StateUpdatesDigest.IsZero())
	require.True(t, transfer.Fee.LoanFullyRepaid)
	require.False(t, transfer.Fee.CollectedFee.IsZero())
	require.Equal(t, transfer.Fee.TotalCost, transfer.Fee.CollectedFee)
	require.NotEmpty(t, transfer.Events)

	require.Equal(t, "250", h.balance(alice).String())

	// Fees are burned: what the accounts hold plus what was collected is the
	// genesis supply.
	collected := sum(t, created.Fee.CollectedFee, transfer.Fee.CollectedFee)
	supply := h.supply()
	require.Equal(t, "1000000", sum(t, supply, collected).String())
	require.Equal(t, supply, sum(t, h.balance(h.genesis.Account), h.balance(alice)))
}

func TestMissingFeeRejectsTransaction(t *testing.T) {
	h := newHarness(t, testConfig())
	before := h.version()

	receipt := h.execute(callProbe("log", nil))
	require.Equal(t, types.StatusRejected, receipt.Status)
	require.Empty(t, receipt.Outcome)
	require.False(t, receipt.Fee.LoanFullyRepaid)
	require.Contains(t, receipt.Error, ErrLoanNotRepaid.Error())
	require.Equal(t, before, h.version())
	require.Equal(t, "1000000", h.balance(h.genesis.Account).String())
}

func TestFailedTransactionStillPaysFee(t *testing.T) {
	h := newHarness(t, testConfig())

	receipt := h.execute(
		lockFee(h.genesis.Account, "10"),
		withdraw(h.genesis.Account, "500"),
		callProbe("log", nil),
		callProbe("panic", nil),
	)
	require.Equal(t, types.StatusCommitted, receipt.Status)
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Contains(t, receipt.Error, "probe exploded")
	require.Len(t, receipt.Logs, 1)
	require.Empty(t, receipt.Events)
	require.Empty(t, receipt.NewComponents)

	// The withdrawal is rolled back; only the fee leaves the account.
	want, err := dec("1000000").Sub(receipt.Fee.CollectedFee)
	require.NoError(t, err)
	require.False(t, receipt.Fee.CollectedFee.IsZero())
	require.Equal(t, want, h.balance(h.genesis.Account))
	require.Equal(t, want, h.supply())
}

func TestWorktopMustBeEmpty(t *testing.T) {
	h := newHarness(t, testConfig())
	receipt := h.execute(lockFee(h.genesis.Account, "10"), withdraw(h.genesis.Account, "5"))
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Contains(t, receipt.Error, ErrWorktopNotEmpty.Error())
}

func TestContingentFeeIsOnlyChargedOnSuccess(t *testing.T) {
	h := newHarness(t, testConfig())
	contingent := lockFee(h.genesis.Account, "50")
	contingent.Contingent = true

	receipt := h.execute(lockFee(h.genesis.Account, "10"), contingent, callProbe("panic", nil))
	require.Equal(t, types.OutcomeFailure, receipt.Outcome)
	require.Equal(t, "60", receipt.Fee.LockedFee.String())
	require.Len(t, receipt.Fee.Payments, 2)
	require.True(t, receipt.Fee.Payments[1].Contingent)

	want, err := dec("1000000").Sub(receipt.Fee.CollectedFee)
	require.NoError(t, err)
	require.Equal(t, want, h.balance(h.genesis.Account))
}

func TestCostLimitAbortsTransaction(t *testing.T) {
	cfg := testConfig()
	cfg.Fees.ExecutionCostUnitLimit = 200_000
	h := newHarness(t, cfg)

	receipt := h.execute(lockFee(h.genesis.Account, "10"), callProbe("consume", &unitsArgs{Units: 1_000_000}))
	require.Equal(t, types.StatusAborted, receipt.Status)
	require.Empty(t, receipt.Outcome)
	require.Contains(t, receipt.Error, ErrCostLimitExceeded.Error())
	require.Equal(t, cfg.Fees.ExecutionCostUnitLimit, receipt.Fee.ExecutionCostUnitsConsumed)

	// Aborted transactions still commit the fee payment.
	require.Equal(t, "2", receipt.Fee.CollectedFee.String())
	require.Equal(t, "999998", h.balance(h.genesis.Account).String())
	require.Equal(t, uint64(2), receipt.StateVersion)
}

func TestFinalizationLimitAbortsTransaction(t *testing.T) {
	cfg := testConfig()
	cfg.Fees.FinalizationCostUnitLimit = 1
	h := newHarness(t, cfg)
	before := h.version()

	receipt := h.execute(lockFee(h.genesis.Account, "10"), newAccount())
	require.Equal(t, types.StatusAborted, receipt.Status)
	require.Empty(t, receipt.Outcome)
	require.Contains(t, receipt.Error, ErrCostLimitExceeded.Error())
	require.Contains(t, receipt.Error, "finalization")
	require.Equal(t, uint64(1), receipt.Fee.FinalizationCostUnitsConsumed)
	require.Empty(t, receipt.NewComponents)

	// Only the fee payment commits; the new account is rolled back.
	require.False(t, receipt.Fee.CollectedFee.IsZero())
	want, err := dec("1000000").Sub(receipt.Fee.CollectedFee)
	require.NoError(t, err)
	require.Equal(t, want, h.balance(h.genesis.Account))
	require.Equal(t, want, h.supply())
	require.Equal(t, before+1, h.version())
}

func TestCallDepthLimitAbortsTransaction(t *testing.T) {
	h := newHarness(t, testConfig())

	ok := h.execute(lockFee(h.genesis.Account, "10"), callProbe("recurse", &depthArgs{Remaining: 10}))
	require.True(t, ok.IsSuccess(), ok.Error)

	deep := h.execute(lockFee(h.genesis.Account, "10"), callProbe("recurse", &depthArgs{Remaining: 40}))
	require.Equal(t, types.StatusAborted, deep.Status)
	require.Contains(t, deep.Error, kernel.ErrMaxCallDepthLimitReached.Error())
}

func TestCancellationAbortsTransaction(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	probeHook = cancel
	t.Cleanup(func() { probeHook = nil })

	receipt, err := h.exec.Execute(ctx, &types.Transaction{Network: testNetwork, Instructions: []types.Instruction{
		lockFee(h.genesis.Account, "10"),
		callProbe("hook", nil),
		callProbe("log", nil),
	}})
	require.NoError(t, err)
	require.Equal(t, types.StatusAborted, receipt.Status)
	require.Contains(t, receipt.Error, context.Canceled.Error())
	require.Contains(t, receipt.Error, "instruction 2")
}

func TestNetworkMismatchIsRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	receipt, err := h.exec.Execute(context.Background(), &types.Transaction{
		Network:      "mainnet",
		Instructions: []types.Instruction{lockFee(h.genesis.Account, "10")},
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusRejected, receipt.Status)
	require.Contains(t, receipt.Error, ErrNetworkMismatch.Error())
	require.Equal(t, uint64(1), h.version())
}

func TestExecuteBeforeBootstrapIsRejected(t *testing.T) {
	store := storage.NewStore(storage.NewMemDB())
	exec, err := NewExecutor(store, testConfig(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	receipt, err := exec.Execute(context.Background(), &types.Transaction{Network: testNetwork})
	require.NoError(t, err)
	require.Equal(t, types.StatusRejected, receipt.Status)
	require.Contains(t, receipt.Error, ErrNotBootstrapped.Error())
	version, err := store.Version()
	require.NoError(t, err)
	require.Zero(t, version)
}

func TestPreallocatedAccountAddress(t *testing.T) {
	h := newHarness(t, testConfig())
	create := newAccount()
	create.Addresses = []string{"alice"}

	receipt := h.execute(
		lockFee(h.genesis.Account, "10"),
		types.Instruction{Op: types.OpAllocateGlobalAddress, Entity: types.EntityGlobalGenericComponent, Into: "alice"},
		create,
	)
	require.True(t, receipt.IsSuccess(), receipt.Error)

	var allocated types.NodeId
	require.NoError(t, common.Decode(receipt.Outputs[1], &allocated))
	require.Equal(t, []types.NodeId{allocated}, receipt.NewComponents)

	unknown := newAccount()
	unknown.Addresses = []string{"bob"}
	failed := h.execute(lockFee(h.genesis.Account, "10"), unknown)
	require.Equal(t, types.OutcomeFailure, failed.Outcome)
	require.Contains(t, failed.Error, ErrAddressNotFound.Error())
}

func TestProofInstructions(t *testing.T) {
	h := newHarness(t, testConfig())
	native := resource.NativeTokenAddress

	receipt := h.execute(
		lockFee(h.genesis.Account, "10"),
		withdraw(h.genesis.Account, "10"),
		types.Instruction{Op: types.OpAssertWorktopContains, Resource: native, Amount: dec("10")},
		types.Instruction{Op: types.OpTakeAllFromWorktop, Resource: native, Into: "coins"},
		types.Instruction{Op: types.OpCreateProofFromBucket, Bucket: "coins", Into: "proof"},
		types.Instruction{Op: types.OpCloneProof, Proof: "proof", Into: "copy"},
		types.Instruction{Op: types.OpPushToAuthZone, Proof: "copy"},
		types.Instruction{Op: types.OpCreateProofFromAuthZone, Resource: native, Into: "zone"},
		types.Instruction{Op: types.OpDropProof, Proof: "zone"},
		types.Instruction{Op: types.OpPopFromAuthZone, Into: "popped"},
		types.Instruction{Op: types.OpDropAllProofs},
		deposit(h.genesis.Account, "coins"),
	)
	require.True(t, receipt.IsSuccess(), receipt.Error)
}

func TestInstructionErrors(t *testing.T) {
	h := newHarness(t, testConfig())
	native := resource.NativeTokenAddress

	cases := []struct {
		name  string
		instr []types.Instruction
		want  error
		index int
	}{
		{
			name:  "assertion",
			instr: []types.Instruction{{Op: types.OpAssertWorktopContains, Resource: native, Amount: dec("1")}},
			want:  ErrWorktopAssertion,
		},
		{
			name: "name reuse",
			instr: []types.Instruction{
				{Op: types.OpTakeAllFromWorktop, Resource: native, Into: "b"},
				{Op: types.OpTakeAllFromWorktop, Resource: native, Into: "b"},
			},
			want:  ErrNameInUse,
			index: 2,
		},
		{
			name:  "unknown bucket",
			instr: []types.Instruction{deposit(h.genesis.Account, "missing")},
			want:  ErrBucketNotFound,
		},
		{
			name:  "unknown proof",
			instr: []types.Instruction{{Op: types.OpDropProof, Proof: "missing"}},
			want:  ErrProofNotFound,
		},
		{
			name:  "function on non package",
			instr: []types.Instruction{{Op: types.OpCallFunction, Package: h.genesis.Account, Blueprint: "Account", Function: "new"}},
			want:  ErrInvalidInstruction,
		},
		{
			name:  "internal address",
			instr: []types.Instruction{{Op: types.OpAllocateGlobalAddress, Entity: types.EntityInternalFungibleVault, Into: "v"}},
			want:  ErrInvalidInstruction,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			receipt := h.execute(append([]types.Instruction{lockFee(h.genesis.Account, "10")}, tc.instr...)...)
			require.Equal(t, types.OutcomeFailure, receipt.Outcome)
			require.Contains(t, receipt.Error, tc.want.Error())
			index := tc.index
			if index == 0 {
				index = 1
			}
			require.Contains(t, receipt.Error, fmt.Sprintf("instruction %d", index))
		})
	}
}

func TestExecutionIsDeterministic(t *testing.T) {
	run := func() *types.Receipt {
		h := newHarness(t, testConfig())
		return h.execute(
			lockFee(h.genesis.Account, "10"),
			newAccount(),
			callProbe("log", nil),
		)
	}
	first, second := run(), run()
	require.True(t, first.IsSuccess(), first.Error)
	require.Equal(t, first.StateUpdatesDigest, second.StateUpdatesDigest)
	require.Equal(t, first.NewComponents, second.NewComponents)
	require.Equal(t, first.Fee, second.Fee)
}

func TestReceiptsAreEmittedAndArchived(t *testing.T) {
	recorder := &events.Recorder{}
	sink := &recordingSink{}
	h := newHarness(t, testConfig(), WithEmitter(recorder), WithReceiptSink(sink))

	receipt := h.execute(lockFee(h.genesis.Account, "10"))
	require.True(t, receipt.IsSuccess(), receipt.Error)
	require.Equal(t, []*types.Receipt{receipt}, sink.receipts)

	require.Len(t, recorder.Events, 1)
	executed, ok := recorder.Events[0].(events.TransactionExecuted)
	require.True(t, ok)
	require.Equal(t, receipt.TransactionHash, executed.Hash)
	require.Equal(t, receipt.StateVersion, executed.StateVersion)
}

func TestNewExecutorValidatesConfig(t *testing.T) {
	store := storage.NewStore(storage.NewMemDB())
	_, err := NewExecutor(nil, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxCallDepth = 0
	_, err = NewExecutor(store, cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Fees.FinalizationCostUnitLimit = 0
	_, err = NewExecutor(store, cfg)
	require.ErrorIs(t, err, ErrInvalidFeeConfig)

	_, err = NewExecutor(store, DefaultConfig(), WithPackages(system.NewPackage("account")))
	require.ErrorIs(t, err, system.ErrDuplicatePackage)
}
