package config

import (
	"errors"
	"fmt"

	"ledgerengine/core/types"
)

const (
	BackendMem     = "mem"
	BackendLevelDB = "leveldb"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case BackendMem:
	case BackendLevelDB:
		if cfg.Storage.DataDir == "" {
			return fmt.Errorf("%w: storage: leveldb needs a DataDir", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: storage: unknown backend %q", ErrInvalidConfig, cfg.Storage.Backend)
	}
	if cfg.Kernel.MaxCallDepth <= 0 {
		return fmt.Errorf("%w: kernel: MaxCallDepth must be positive", ErrInvalidConfig)
	}
	if cfg.Fees.ExecutionCostUnitLimit == 0 || cfg.Fees.FinalizationCostUnitLimit == 0 {
		return fmt.Errorf("%w: fees: cost unit limits must be positive", ErrInvalidConfig)
	}
	if cfg.Fees.SystemLoan > cfg.Fees.ExecutionCostUnitLimit {
		return fmt.Errorf("%w: fees: SystemLoan exceeds ExecutionCostUnitLimit", ErrInvalidConfig)
	}
	if _, err := types.ParseDecimal(cfg.Fees.CostUnitPrice); err != nil {
		return fmt.Errorf("%w: fees: CostUnitPrice: %v", ErrInvalidConfig, err)
	}
	if cfg.Genesis.InitialSupply != "" {
		if _, err := types.ParseDecimal(cfg.Genesis.InitialSupply); err != nil {
			return fmt.Errorf("%w: genesis: InitialSupply: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.Receipts.DSN != "" {
		switch cfg.Receipts.Driver {
		case DriverSQLite, DriverPostgres:
		default:
			return fmt.Errorf("%w: receipts: unknown driver %q", ErrInvalidConfig, cfg.Receipts.Driver)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: telemetry: SampleRatio must be within [0,1]", ErrInvalidConfig)
	}
	if cfg.RPC.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: rpc: MaxBodyBytes must not be negative", ErrInvalidConfig)
	}
	return nil
}
