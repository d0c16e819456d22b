package core

import (
	"context"
	"fmt"
	"log/slog"

	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/account"
	"ledgerengine/native/resource"
)

// GenesisConfig seeds an empty ledger.
type GenesisConfig struct {
	// InitialSupply of the native token, deposited into the genesis account.
	InitialSupply types.Decimal
	// Owner guards the genesis account. The zero rule allows everyone.
	Owner resource.AccessRule
}

// Genesis describes the bootstrapped ledger.
type Genesis struct {
	Packages     []types.NodeId
	NativeToken  types.ResourceAddress
	Account      types.NodeId
	StateVersion uint64
}

// Bootstrap publishes the registered packages, creates the native token and
// the genesis account, and commits them as the first state version. It runs
// without fee metering.
func (e *Executor) Bootstrap(ctx context.Context, cfg GenesisConfig) (*Genesis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, span := e.tracer.Start(ctx, "engine.Bootstrap")
	defer span.End()

	version, err := e.store.Version()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("%w: store is at version %d", ErrAlreadyBootstrapped, version)
	}

	track := kernel.NewTrack(e.store)
	k := e.newKernel(track, e.logger, []byte("genesis"))
	out := &Genesis{NativeToken: resource.NativeTokenAddress}

	for _, pkg := range e.registry.Packages() {
		k.PreallocateNodeId(pkg.Address)
		if err := system.PublishPackage(k, pkg); err != nil {
			return nil, fmt.Errorf("core: publish package %s: %w", pkg.Name, err)
		}
		out.Packages = append(out.Packages, pkg.Address)
	}

	token := resource.NativeTokenAddress
	k.PreallocateNodeId(token)
	_, bucket, err := resource.CreateFungible(k, resource.CreateFungibleArgs{
		Divisibility:  types.DecimalPlaces,
		InitialSupply: cfg.InitialSupply,
		Rules:         resource.DefaultAccessRules(),
	}, &token)
	if err != nil {
		return nil, fmt.Errorf("core: create native token: %w", err)
	}
	acct, err := account.New(k, cfg.Owner, nil)
	if err != nil {
		return nil, fmt.Errorf("core: create genesis account: %w", err)
	}
	if bucket != nil {
		if err := acct.Deposit(k, *bucket); err != nil {
			return nil, fmt.Errorf("core: fund genesis account: %w", err)
		}
	}
	if err := k.Finish(); err != nil {
		return nil, err
	}
	out.Account = acct.Address

	if out.StateVersion, err = e.store.Commit(track.Updates()); err != nil {
		return nil, fmt.Errorf("core: commit genesis: %w", err)
	}
	e.logger.Info("ledger bootstrapped",
		slog.Int("packages", len(out.Packages)),
		slog.String("account", out.Account.String()),
		slog.String("supply", cfg.InitialSupply.String()),
		slog.Uint64("version", out.StateVersion))
	return out, nil
}
