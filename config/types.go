package config

import "ledgerengine/core/kernel"

// Storage selects the substate store backend.
type Storage struct {
	// Backend is "mem" or "leveldb".
	Backend string `toml:"Backend"`
	DataDir string `toml:"DataDir"`
}

// Kernel bounds the call stack.
type Kernel struct {
	MaxCallDepth int `toml:"MaxCallDepth"`
}

// Fees prices execution. CostUnitPrice is a decimal string in units of the
// native token.
type Fees struct {
	ExecutionCostUnitLimit    uint64       `toml:"ExecutionCostUnitLimit"`
	FinalizationCostUnitLimit uint64       `toml:"FinalizationCostUnitLimit"`
	SystemLoan                uint64       `toml:"SystemLoan"`
	CostUnitPrice             string       `toml:"CostUnitPrice"`
	StateUpdateCost           uint64       `toml:"StateUpdateCost"`
	StateByteCost             uint64       `toml:"StateByteCost"`
	Costs                     kernel.Costs `toml:"Costs"`
}

// Receipts configures the receipt archive. An empty DSN disables it.
type Receipts struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type Logging struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
}

type RPC struct {
	ListenAddress string `toml:"ListenAddress"`
	// MaxBodyBytes caps submitted transaction payloads.
	MaxBodyBytes int64 `toml:"MaxBodyBytes"`
	// ReadHeaderTimeout is in seconds.
	ReadHeaderTimeout int `toml:"ReadHeaderTimeout"`
}

// Genesis seeds an empty store.
type Genesis struct {
	InitialSupply string `toml:"InitialSupply"`
}
