package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"lukechampine.com/blake3"

	"ledgerengine/core/events"
	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/account"
	"ledgerengine/native/resource"
	"ledgerengine/observability"
	enginetel "ledgerengine/observability/otel"
)

// StateStore is the versioned substate store the executor commits to.
type StateStore interface {
	kernel.SubstateReader
	Commit(updates []types.StateUpdate) (uint64, error)
	Version() (uint64, error)
}

// ReceiptSink archives receipts once a transaction has been decided.
type ReceiptSink interface {
	SaveReceipt(ctx context.Context, receipt *types.Receipt) error
}

// Config bounds execution.
type Config struct {
	// Network, when set, must match every transaction's network.
	Network      string
	MaxCallDepth int
	Costs        kernel.Costs
	Fees         FeeConfig
}

func DefaultConfig() Config {
	return Config{
		MaxCallDepth: 16,
		Costs:        kernel.DefaultCosts(),
		Fees:         DefaultFeeConfig(),
	}
}

// Executor runs transactions one at a time against a store.
type Executor struct {
	cfg        Config
	store      StateStore
	packages   []*system.Package
	registry   *system.Registry
	dispatcher *system.Dispatcher
	bytecode   system.BytecodeVM
	logger     *slog.Logger
	emitter    events.Emitter
	sink       ReceiptSink
	metrics    *observability.EngineMetrics
	tracer     trace.Tracer

	mu sync.Mutex
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithEmitter(emitter events.Emitter) Option {
	return func(e *Executor) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

func WithReceiptSink(sink ReceiptSink) Option {
	return func(e *Executor) { e.sink = sink }
}

// WithPackages registers native packages next to the built in resource and
// account packages.
func WithPackages(pkgs ...*system.Package) Option {
	return func(e *Executor) { e.packages = append(e.packages, pkgs...) }
}

// WithBytecodeVM installs the collaborator that runs non-native packages.
func WithBytecodeVM(vm system.BytecodeVM) Option {
	return func(e *Executor) { e.bytecode = vm }
}

func WithMetrics(metrics *observability.EngineMetrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// NewExecutor builds an executor over store.
func NewExecutor(store StateStore, cfg Config, opts ...Option) (*Executor, error) {
	if store == nil {
		return nil, errors.New("core: state store required")
	}
	if cfg.MaxCallDepth <= 0 {
		return nil, fmt.Errorf("core: max call depth must be positive (got %d)", cfg.MaxCallDepth)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:      cfg,
		store:    store,
		packages: []*system.Package{resource.Package(), account.Package()},
		logger:   slog.Default(),
		emitter:  events.NoopEmitter{},
		metrics:  observability.Engine(),
		tracer:   enginetel.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	registry, err := system.NewRegistry(e.packages...)
	if err != nil {
		return nil, err
	}
	e.registry = registry
	e.dispatcher = system.NewDispatcher(registry)
	if e.bytecode != nil {
		e.dispatcher.SetBytecodeVM(e.bytecode)
	}
	return e, nil
}

func (e *Executor) Registry() *system.Registry { return e.registry }

func (e *Executor) Config() Config { return e.cfg }

var rootActor = kernel.Actor{Blueprint: types.BlueprintId{Name: "TransactionProcessor"}, Ident: "run"}

func (e *Executor) newKernel(track *kernel.Track, logger *slog.Logger, seed []byte) *kernel.Kernel {
	k := kernel.New(kernel.Config{
		MaxCallDepth: e.cfg.MaxCallDepth,
		Costs:        e.cfg.Costs,
		RootActor:    rootActor,
	}, track, e.dispatcher)
	k.SetNodeDropper(resource.DropTransientNode)
	k.SetLogger(logger)
	k.SetIdSeed(seed)
	return k
}

var transitions = map[types.TransactionStatus][]types.TransactionStatus{
	types.StatusPending:   {types.StatusExecuting, types.StatusRejected},
	types.StatusExecuting: {types.StatusCommitted, types.StatusRejected, types.StatusAborted},
}

func advance(receipt *types.Receipt, to types.TransactionStatus) error {
	for _, next := range transitions[receipt.Status] {
		if next == to {
			receipt.Status = to
			return nil
		}
	}
	return fmt.Errorf("core: invalid status transition %s -> %s", receipt.Status, to)
}

// Execute runs tx and commits its outcome. Rejections, aborts and failures
// are reported in the receipt; the error is reserved for store failures.
func (e *Executor) Execute(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, errors.New("core: transaction required")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("tx.hash", hash.String()),
		attribute.Int("tx.instructions", len(tx.Instructions)),
	))
	defer span.End()

	started := time.Now()
	logger := e.logger.With(
		slog.String("tx", hash.String()),
		slog.String("correlation_id", uuid.NewString()),
	)
	receipt := &types.Receipt{TransactionHash: hash, Status: types.StatusPending}

	var rejectErr error
	if e.cfg.Network != "" && tx.Network != e.cfg.Network {
		rejectErr = fmt.Errorf("%w: transaction for %q, engine runs %q", ErrNetworkMismatch, tx.Network, e.cfg.Network)
	} else if version, err := e.store.Version(); err != nil {
		return nil, err
	} else if version == 0 {
		rejectErr = fmt.Errorf("%w: store has no genesis version", ErrNotBootstrapped)
	}
	if rejectErr != nil {
		if err := advance(receipt, types.StatusRejected); err != nil {
			return nil, err
		}
		receipt.Error = rejectErr.Error()
		return e.finish(ctx, span, logger, receipt, nil, started)
	}
	if err := advance(receipt, types.StatusExecuting); err != nil {
		return nil, err
	}

	track := kernel.NewTrack(e.store)
	reserve := NewFeeReserve(e.cfg.Fees)
	k := e.newKernel(track, logger, hash[:])
	k.SetCosting(reserve)

	proc := newProcessor(k)
	execErr := proc.run(ctx, tx.Instructions)
	if execErr == nil {
		execErr = k.Finish()
	}
	if execErr == nil {
		execErr = reserve.Repay()
	}
	if execErr == nil {
		execErr = reserve.ConsumeFinalization(track.Updates())
	}
	receipt.Outputs = proc.outputs
	receipt.Logs = k.Logs()

	var status types.TransactionStatus
	switch {
	case execErr == nil:
		status, receipt.Outcome = types.StatusCommitted, types.OutcomeSuccess
	case !reserve.LoanRepaid():
		status = types.StatusRejected
	case IsFatal(execErr):
		status = types.StatusAborted
	default:
		status, receipt.Outcome = types.StatusCommitted, types.OutcomeFailure
	}
	if execErr != nil {
		e.metrics.RecordFailure(failureClass(execErr))
	}

	collected := types.Decimal{}
	if status != types.StatusRejected {
		success := execErr == nil
		var globals []types.NodeId
		if success {
			globals = track.NewGlobalNodes()
			receipt.Events = k.Events()
		} else {
			track.Rollback()
		}
		settlement, serr := reserve.Settle(success)
		if serr == nil {
			serr = e.settle(track, settlement, success)
		}
		if serr != nil {
			logger.Warn("fee settlement failed", slog.Any("error", serr))
			status, receipt.Outcome, receipt.Events, globals = types.StatusRejected, "", nil, nil
			execErr = errors.Join(execErr, serr)
		} else {
			collected = settlement.Collected
			classifyGlobals(receipt, globals)
		}
	}
	if err := advance(receipt, status); err != nil {
		return nil, err
	}
	if execErr != nil {
		receipt.Error = execErr.Error()
	}
	receipt.Fee = reserve.Summary(collected)

	var updates []types.StateUpdate
	if status != types.StatusRejected {
		updates = track.Updates()
		version, err := e.store.Commit(updates)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "commit failed")
			return nil, fmt.Errorf("core: commit %s: %w", hash, err)
		}
		receipt.StateVersion = version
		receipt.StateUpdateCount = len(updates)
		receipt.StateUpdatesDigest = digestUpdates(updates)
	}
	return e.finish(ctx, span, logger, receipt, updates, started)
}

func (e *Executor) finish(ctx context.Context, span trace.Span, logger *slog.Logger, receipt *types.Receipt, updates []types.StateUpdate, started time.Time) (*types.Receipt, error) {
	span.SetAttributes(
		attribute.String("tx.status", string(receipt.Status)),
		attribute.String("tx.outcome", string(receipt.Outcome)),
		attribute.Int64("tx.cost_units", int64(receipt.Fee.ExecutionCostUnitsConsumed+receipt.Fee.FinalizationCostUnitsConsumed)),
	)
	attrs := []any{
		slog.String("status", string(receipt.Status)),
		slog.String("outcome", string(receipt.Outcome)),
		slog.Uint64("execution_units", receipt.Fee.ExecutionCostUnitsConsumed),
		slog.Uint64("finalization_units", receipt.Fee.FinalizationCostUnitsConsumed),
		slog.String("fee", receipt.Fee.CollectedFee.String()),
	}
	if receipt.IsSuccess() {
		span.SetStatus(codes.Ok, "")
		logger.Info("transaction executed", attrs...)
	} else {
		span.SetStatus(codes.Error, receipt.Error)
		logger.Warn("transaction not successful", append(attrs, slog.String("error", receipt.Error))...)
	}

	fee, _ := strconv.ParseFloat(receipt.Fee.CollectedFee.String(), 64)
	e.metrics.ObserveTransaction(observability.TransactionSample{
		Status:       string(receipt.Status),
		Outcome:      string(receipt.Outcome),
		Execution:    receipt.Fee.ExecutionCostUnitsConsumed,
		Finalization: receipt.Fee.FinalizationCostUnitsConsumed,
		StateUpdates: len(updates),
		FeeCollected: fee,
		Elapsed:      time.Since(started),
	})
	for _, evt := range receipt.Events {
		e.metrics.ObserveEvent(evt.Emitter.EntityType().String(), evt.Type)
	}
	e.emitter.Emit(events.TransactionExecuted{
		Hash:         receipt.TransactionHash,
		Status:       receipt.Status,
		Outcome:      receipt.Outcome,
		CostUnits:    receipt.Fee.ExecutionCostUnitsConsumed + receipt.Fee.FinalizationCostUnitsConsumed,
		StateVersion: receipt.StateVersion,
	})
	if e.sink != nil {
		if err := e.sink.SaveReceipt(ctx, receipt); err != nil {
			logger.Warn("receipt archive failed", slog.Any("error", err))
		}
	}
	return receipt, nil
}

// settle applies the fee charges to the track. On success the unspent part
// of every lock is refunded; on failure the writes were rolled back, so the
// charged part of non-contingent locks is withdrawn again. Collected fee is
// burned.
func (e *Executor) settle(track *kernel.Track, s FeeSettlement, success bool) error {
	for _, c := range s.Charges {
		var err error
		switch {
		case success:
			err = resource.CreditVault(track, c.Vault, c.Refund())
		case !c.Contingent:
			err = resource.DebitVault(track, c.Vault, c.Charged)
		}
		if err != nil {
			return fmt.Errorf("settle fee for vault %s: %w", c.Vault.Short(), err)
		}
	}
	return resource.BurnSupply(track, e.cfg.Fees.FeeResource, s.Collected)
}

func classifyGlobals(receipt *types.Receipt, globals []types.NodeId) {
	for _, id := range globals {
		switch entity := id.EntityType(); {
		case entity == types.EntityGlobalPackage:
			receipt.NewPackages = append(receipt.NewPackages, id)
		case entity.IsResourceManager():
			receipt.NewResources = append(receipt.NewResources, id)
		default:
			receipt.NewComponents = append(receipt.NewComponents, id)
		}
	}
}

// digestUpdates is a blake3 hash over the canonical update list.
func digestUpdates(updates []types.StateUpdate) types.Hash {
	h := blake3.New(32, nil)
	var length [8]byte
	for _, u := range updates {
		key := u.Address.Bytes()
		binary.BigEndian.PutUint64(length[:], uint64(len(key)))
		h.Write(length[:])
		h.Write(key)
		if u.Delete {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		binary.BigEndian.PutUint64(length[:], uint64(len(u.Value)))
		h.Write(length[:])
		h.Write(u.Value)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func failureClass(err error) string {
	var panicErr *kernel.PanicError
	switch {
	case errors.Is(err, ErrCostLimitExceeded):
		return "cost_limit"
	case errors.Is(err, ErrInsufficientFee):
		return "insufficient_fee"
	case errors.Is(err, ErrLoanNotRepaid):
		return "loan_not_repaid"
	case errors.Is(err, kernel.ErrMaxCallDepthLimitReached):
		return "call_depth"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, resource.ErrUnauthorized):
		return "unauthorized"
	default:
		return "application"
	}
}
