package config

import (
	"fmt"

	"ledgerengine/core"
	"ledgerengine/core/types"
	"ledgerengine/observability/logging"
	enginetel "ledgerengine/observability/otel"
)

// ExecutorConfig parses the configured limits into runtime values.
func (c *Config) ExecutorConfig() (core.Config, error) {
	out := core.DefaultConfig()
	out.Network = c.NetworkName
	out.MaxCallDepth = c.Kernel.MaxCallDepth
	out.Costs = c.Fees.Costs

	price, err := types.ParseDecimal(c.Fees.CostUnitPrice)
	if err != nil {
		return out, fmt.Errorf("invalid Fees.CostUnitPrice: %w", err)
	}
	out.Fees.ExecutionCostUnitLimit = c.Fees.ExecutionCostUnitLimit
	out.Fees.FinalizationCostUnitLimit = c.Fees.FinalizationCostUnitLimit
	out.Fees.SystemLoan = c.Fees.SystemLoan
	out.Fees.CostUnitPrice = price
	out.Fees.StateUpdateCost = c.Fees.StateUpdateCost
	out.Fees.StateByteCost = c.Fees.StateByteCost
	return out, nil
}

// GenesisConfig parses the genesis supply.
func (c *Config) GenesisConfig() (core.GenesisConfig, error) {
	var out core.GenesisConfig
	if c.Genesis.InitialSupply == "" {
		return out, nil
	}
	supply, err := types.ParseDecimal(c.Genesis.InitialSupply)
	if err != nil {
		return out, fmt.Errorf("invalid Genesis.InitialSupply: %w", err)
	}
	out.InitialSupply = supply
	return out, nil
}

func (c *Config) LoggingOptions(service string) logging.Options {
	return logging.Options{
		Service:    service,
		Env:        c.Logging.Env,
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

func (c *Config) TelemetryConfig(service string) enginetel.Config {
	return enginetel.Config{
		ServiceName: service,
		Environment: c.Logging.Env,
		Network:     c.NetworkName,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     c.Telemetry.Headers,
		Metrics:     c.Telemetry.Metrics,
		Traces:      c.Telemetry.Traces,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}
