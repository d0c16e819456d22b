package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerengine/core"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `NetworkName = "testnet"

[Storage]
Backend = "MEM"

[Kernel]
MaxCallDepth = 8

[Fees]
ExecutionCostUnitLimit = 500000
FinalizationCostUnitLimit = 100000
SystemLoan = 20000
CostUnitPrice = "0.0001"

[Fees.Costs]
Invoke = 900

[Receipts]
Driver = "postgres"
DSN = "postgres://ledger:secret@db:5432/receipts"

[Telemetry]
Traces = true
SampleRatio = 0.25
Headers = { authorization = "Bearer token" }

[RPC]
ListenAddress = "127.0.0.1:9090"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.NetworkName)
	require.Equal(t, BackendMem, cfg.Storage.Backend)
	require.Equal(t, 8, cfg.Kernel.MaxCallDepth)
	require.Equal(t, uint64(900), cfg.Fees.Costs.Invoke)
	// Keys absent from the file keep their defaults.
	require.Equal(t, Default().Fees.Costs.CreateNode, cfg.Fees.Costs.CreateNode)
	require.Equal(t, uint64(100), cfg.Fees.StateUpdateCost)
	require.Equal(t, DriverPostgres, cfg.Receipts.Driver)
	require.Equal(t, "Bearer token", cfg.Telemetry.Headers["authorization"])
	require.Equal(t, "127.0.0.1:9090", cfg.RPC.ListenAddress)

	exec, err := cfg.ExecutorConfig()
	require.NoError(t, err)
	require.Equal(t, "testnet", exec.Network)
	require.Equal(t, 8, exec.MaxCallDepth)
	require.Equal(t, uint64(20000), exec.Fees.SystemLoan)
	require.Equal(t, "0.0001", exec.Fees.CostUnitPrice.String())
	require.Equal(t, core.DefaultFeeConfig().FeeResource, exec.Fees.FeeResource)
	require.NoError(t, exec.Fees.Validate())

	tel := cfg.TelemetryConfig("engine")
	require.True(t, tel.Traces)
	require.Equal(t, 0.25, tel.SampleRatio)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Kernel]\nMaxDepth = 4\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "Kernel.MaxDepth")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":        func(c *Config) { c.Storage.Backend = "rocksdb" },
		"data dir":       func(c *Config) { c.Storage.DataDir = "" },
		"depth":          func(c *Config) { c.Kernel.MaxCallDepth = 0 },
		"limit":          func(c *Config) { c.Fees.ExecutionCostUnitLimit = 0 },
		"loan":           func(c *Config) { c.Fees.SystemLoan = c.Fees.ExecutionCostUnitLimit + 1 },
		"price":          func(c *Config) { c.Fees.CostUnitPrice = "cheap" },
		"supply":         func(c *Config) { c.Genesis.InitialSupply = "-1" },
		"receipt driver": func(c *Config) { c.Receipts.Driver = "mysql" },
		"sample ratio":   func(c *Config) { c.Telemetry.SampleRatio = 2 },
	}
	require.NoError(t, Validate(Default()))
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
		})
	}
}

func TestGenesisConfig(t *testing.T) {
	cfg := Default()
	genesis, err := cfg.GenesisConfig()
	require.NoError(t, err)
	require.Equal(t, "1000000000", genesis.InitialSupply.String())

	cfg.Genesis.InitialSupply = ""
	genesis, err = cfg.GenesisConfig()
	require.NoError(t, err)
	require.True(t, genesis.InitialSupply.IsZero())
}
