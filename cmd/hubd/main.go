package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hubd/cmd/internal/passphrase"
	"hubd/config"
	"hubd/core/engine"
	"hubd/core/types"
	"hubd/crypto"
	"hubd/observability/logging"
	"hubd/observability/otel"
	"hubd/rpc"
	"hubd/storage"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfig
	}
	switch args[0] {
	case "start":
		return cmdStart(args[1:])
	case "identity":
		if len(args) < 2 || args[1] != "create" {
			usage()
			return exitConfig
		}
		return cmdIdentityCreate(args[2:])
	case "migration":
		if len(args) < 2 {
			usage()
			return exitConfig
		}
		switch args[1] {
		case "backfill-messages":
			return cmdBackfillMessages(args[2:])
		case "backfill-onchain-events":
			return cmdBackfillOnChainEvents(args[2:])
		default:
			usage()
			return exitConfig
		}
	case "-h", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitConfig
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  hubd start [--config config.toml] [--db path]
  hubd identity create [--out path]
  hubd migration backfill-messages --db path
  hubd migration backfill-onchain-events --db path`)
}

func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	dbPath := fs.String("db", "", "Database path (overrides config DataDir)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitConfig
	}
	network, err := cfg.ParsedNetwork()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid network: %v\n", err)
		return exitConfig
	}

	logger := logging.Setup("hubd", network.String(), logging.Options{
		FilePath:  cfg.LogPath,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OtelEndpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "hubd",
			Environment: network.String(),
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			Traces:      true,
			Metrics:     true,
		})
		if err != nil {
			logger.Error("telemetry init failed", slog.Any("error", err))
			return exitError
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	path := cfg.DataDir
	if *dbPath != "" {
		path = *dbPath
	}
	db, err := storage.NewLevelDB(path)
	if err != nil {
		logger.Error("failed to open database", slog.String("path", path), slog.Any("error", err))
		return exitError
	}
	defer db.Close()

	e, err := engine.New(engine.Config{
		DB:                db,
		Network:           network,
		Logger:            logger,
		ValidationWorkers: cfg.ValidationWorkers,
	})
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		return exitError
	}
	e.Start()
	defer e.Stop()

	server := rpc.NewServer(e, logger, rpc.WithAdminSecret(cfg.AdminSecret))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("hub started",
		slog.String("network", network.String()),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("db", path))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("rpc shutdown failed", slog.Any("error", err))
		}
		return exitOK
	case err := <-errCh:
		logger.Error("rpc server failed", slog.Any("error", err))
		return exitError
	}
}

func cmdIdentityCreate(args []string) int {
	fs := flag.NewFlagSet("identity create", flag.ContinueOnError)
	out := fs.String("out", "./identity.json", "Keystore output path")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	pass, err := passphrase.NewSource(config.EnvKeystorePass).Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "passphrase: %v\n", err)
		return exitConfig
	}
	key, err := crypto.GenerateIdentityKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate identity: %v\n", err)
		return exitError
	}
	if err := crypto.SaveIdentity(*out, key, pass); err != nil {
		fmt.Fprintf(os.Stderr, "save identity: %v\n", err)
		return exitError
	}
	addr := key.Address()
	fmt.Printf("identity created\naddress: 0x%s\nkeystore: %s\n", hex.EncodeToString(addr[:]), *out)
	return exitOK
}

func openEngineForMigration(fs *flag.FlagSet, args []string) (*engine.Engine, *storage.LevelDB, int) {
	dbPath := fs.String("db", "", "Database path")
	networkName := fs.String("network", "mainnet", "Network the database belongs to")
	if err := fs.Parse(args); err != nil {
		return nil, nil, exitConfig
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db is required")
		return nil, nil, exitConfig
	}
	network, err := types.ParseNetwork(*networkName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid network: %v\n", err)
		return nil, nil, exitConfig
	}
	db, err := storage.NewLevelDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return nil, nil, exitError
	}
	e, err := engine.New(engine.Config{DB: db, Network: network, Logger: slog.Default()})
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		return nil, nil, exitError
	}
	return e, db, exitOK
}

func cmdBackfillMessages(args []string) int {
	fs := flag.NewFlagSet("migration backfill-messages", flag.ContinueOnError)
	e, db, code := openEngineForMigration(fs, args)
	if e == nil {
		return code
	}
	defer db.Close()

	inserted, err := e.RebuildSyncTrie(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild sync trie: %v\n", err)
		return exitError
	}
	fmt.Printf("sync trie rebuilt from %d messages\n", inserted)
	return exitOK
}

func cmdBackfillOnChainEvents(args []string) int {
	fs := flag.NewFlagSet("migration backfill-onchain-events", flag.ContinueOnError)
	e, db, code := openEngineForMigration(fs, args)
	if e == nil {
		return code
	}
	defer db.Close()

	// The derived views (custody, signers, units) are computed from the
	// primary event rows on read; rebuilding the storage cache is the only
	// materialized state to refresh.
	if err := e.RebuildStorageCache(); err != nil {
		fmt.Fprintf(os.Stderr, "rebuild storage cache: %v\n", err)
		return exitError
	}
	fmt.Println("on-chain derived views refreshed")
	return exitOK
}
