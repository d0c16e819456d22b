package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ledgerengine/config"
	"ledgerengine/core"
	"ledgerengine/core/types"
	"ledgerengine/observability/logging"
	"ledgerengine/rpc"
	"ledgerengine/storage"
	"ledgerengine/storage/receipts"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.Store
	archive *receipts.Archive
	exec    *core.Executor
}

func openDatabase(cfg config.Storage) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMem:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data directory: %w", err)
		}
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "substates"), true)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: storage.NewStore(db)}

	execCfg, err := cfg.ExecutorConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := []core.Option{core.WithLogger(logger)}
	if cfg.Receipts.DSN != "" {
		if cfg.Receipts.Driver == config.DriverSQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.Receipts.DSN), 0o755); err != nil {
				a.Close()
				return nil, fmt.Errorf("prepare receipts directory: %w", err)
			}
		}
		a.archive, err = receipts.Open(cfg.Receipts.Driver, cfg.Receipts.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("receipt archive opened",
			slog.String("driver", cfg.Receipts.Driver),
			slog.String("backend", logging.MaskDSN(cfg.Receipts.DSN)))
		opts = append(opts, core.WithReceiptSink(a.archive))
	}
	a.exec, err = core.NewExecutor(a.store, execCfg, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// receiptStore returns the archive as an rpc.ReceiptStore, or nil when the
// archive is disabled.
func (a *app) receiptStore() rpc.ReceiptStore {
	if a.archive == nil {
		return nil
	}
	return a.archive
}

// ensureGenesis bootstraps an empty store. It returns nil when the store was
// already bootstrapped.
func (a *app) ensureGenesis(ctx context.Context) (*core.Genesis, error) {
	genesisCfg, err := a.cfg.GenesisConfig()
	if err != nil {
		return nil, err
	}
	genesis, err := a.exec.Bootstrap(ctx, genesisCfg)
	if errors.Is(err, core.ErrAlreadyBootstrapped) {
		return nil, nil
	}
	return genesis, err
}

type initReport struct {
	Bootstrapped bool          `json:"bootstrapped"`
	Genesis      *core.Genesis `json:"genesis,omitempty"`
	StateVersion uint64        `json:"stateVersion"`
}

func (a *app) initialise(ctx context.Context, out io.Writer) error {
	genesis, err := a.ensureGenesis(ctx)
	if err != nil {
		return err
	}
	version, err := a.store.Version()
	if err != nil {
		return err
	}
	return writeJSON(out, initReport{Bootstrapped: genesis != nil, Genesis: genesis, StateVersion: version})
}

func loadTransaction(path string) (*types.Transaction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tx types.Transaction
	if err := yaml.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(tx.Instructions) == 0 {
		return nil, fmt.Errorf("%s: transaction has no instructions", path)
	}
	return &tx, nil
}

func (a *app) runFile(ctx context.Context, path string, out io.Writer) error {
	tx, err := loadTransaction(path)
	if err != nil {
		return err
	}
	receipt, err := a.exec.Execute(ctx, tx)
	if err != nil {
		return fmt.Errorf("execute %s: %w", path, err)
	}
	return writeJSON(out, receipt)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("close receipt archive", slog.Any("error", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", slog.Any("error", err))
		}
	}
}
