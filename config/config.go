package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"ledgerengine/core/kernel"
)

type Config struct {
	NetworkName string    `toml:"NetworkName"`
	Storage     Storage   `toml:"Storage"`
	Kernel      Kernel    `toml:"Kernel"`
	Fees        Fees      `toml:"Fees"`
	Genesis     Genesis   `toml:"Genesis"`
	Receipts    Receipts  `toml:"Receipts"`
	Logging     Logging   `toml:"Logging"`
	Telemetry   Telemetry `toml:"Telemetry"`
	RPC         RPC       `toml:"RPC"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		NetworkName: "ledger-local",
		Storage:     Storage{Backend: BackendLevelDB, DataDir: "./ledger-data"},
		Kernel:      Kernel{MaxCallDepth: 16},
		Fees: Fees{
			ExecutionCostUnitLimit:    100_000_000,
			FinalizationCostUnitLimit: 50_000_000,
			SystemLoan:                50_000,
			CostUnitPrice:             "0.00001",
			StateUpdateCost:           100,
			StateByteCost:             1,
			Costs:                     kernel.DefaultCosts(),
		},
		Genesis:  Genesis{InitialSupply: "1000000000"},
		Receipts: Receipts{Driver: DriverSQLite, DSN: "./ledger-data/receipts.db"},
		Logging:  Logging{Env: "dev", Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1,
		},
		RPC: RPC{ListenAddress: ":8080", MaxBodyBytes: 1 << 20, ReadHeaderTimeout: 5},
	}
}

// Load loads the configuration from the given path. A missing file is
// created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "ledger-local"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Receipts.Driver = strings.ToLower(strings.TrimSpace(cfg.Receipts.Driver))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
