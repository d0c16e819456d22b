package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledgerengine/config"
	"ledgerengine/observability/logging"
	enginetel "ledgerengine/observability/otel"
	"ledgerengine/rpc"
)

const serviceName = "ledger-engine"

const usage = `usage: engine [-config path] <command> [args]

commands:
  init               bootstrap an empty store
  run <tx.yaml>...   execute transaction files and print their receipts
  serve              serve the HTTP API
`

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if err := run(*configFile, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(strings.TrimSpace(usage))
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv("LEDGER_ENV")); env != "" {
		cfg.Logging.Env = env
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); raw != "" {
		if cfg.Telemetry.Headers == nil {
			cfg.Telemetry.Headers = map[string]string{}
		}
		for k, v := range enginetel.ParseHeaders(raw) {
			cfg.Telemetry.Headers[k] = v
		}
	}
	logger := logging.SetupWithOptions(cfg.LoggingOptions(serviceName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := enginetel.Init(ctx, cfg.TelemetryConfig(serviceName))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd := args[0]; cmd {
	case "init":
		return a.initialise(ctx, out)
	case "run":
		if len(args) < 2 {
			return errors.New("run: transaction file required")
		}
		if _, err := a.ensureGenesis(ctx); err != nil {
			return err
		}
		for _, path := range args[1:] {
			if err := a.runFile(ctx, path, out); err != nil {
				return err
			}
		}
		return nil
	case "serve":
		if _, err := a.ensureGenesis(ctx); err != nil {
			return err
		}
		srv, err := rpc.New(rpc.Config{
			Network:           cfg.NetworkName,
			Executor:          a.exec,
			State:             a.store,
			Receipts:          a.receiptStore(),
			Logger:            logger,
			MaxBodyBytes:      cfg.RPC.MaxBodyBytes,
			ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		})
		if err != nil {
			return err
		}
		return srv.Start(ctx, cfg.RPC.ListenAddress)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
