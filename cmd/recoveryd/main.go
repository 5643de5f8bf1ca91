// Command recoveryd serves the recovery-admin API.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/eatyourpeas/checktick-keycore/cmd/flags"
	"github.com/eatyourpeas/checktick-keycore/httpserver"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
	"github.com/eatyourpeas/checktick-keycore/recovery"
	"github.com/eatyourpeas/checktick-keycore/storage"
)

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8081",
	Usage: "address to listen on for the recovery-admin API",
}

func main() {
	app := &cli.App{
		Name:  "recoveryd",
		Usage: "Serve the emergency key-recovery admin API",
		Flags: append([]cli.Flag{
			listenAddrFlag,
			flags.DataDirFlag,
			flags.VaultAddrFlag,
			flags.VaultTokenFlag,
			flags.VaultMountFlag,
			flags.VaultPathFlag,
			flags.VaultComponentFlag,
			flags.RecoveryDelayFlag,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	var records interfaces.KEKRecordStore
	if dataDir := cCtx.String(flags.DataDirFlag.Name); dataDir != "" {
		fileStore, err := storage.NewFileKEKRecordStore(dataDir, logger)
		if err != nil {
			logger.Error("Failed to create file record store", "err", err)
			return err
		}
		records = fileStore
	} else {
		logger.Warn("Using in-memory KEK record store; records do not survive restarts")
		records = storage.NewMemoryKEKRecordStore()
	}

	var components interfaces.ComponentStore
	if vaultAddr := cCtx.String(flags.VaultAddrFlag.Name); vaultAddr != "" {
		vaultStore, err := storage.NewVaultComponentStore(
			vaultAddr,
			cCtx.String(flags.VaultTokenFlag.Name),
			cCtx.String(flags.VaultMountFlag.Name),
			cCtx.String(flags.VaultPathFlag.Name),
			logger,
		)
		if err != nil {
			logger.Error("Failed to create Vault component store", "err", err)
			return err
		}
		logger.Info("Using Vault component store", "location", vaultStore.LocationURI())
		components = vaultStore
	} else {
		logger.Warn("Using in-memory component store; components do not survive restarts")
		components = storage.NewMemoryComponentStore()
	}

	manager, err := recovery.NewManager(recovery.Config{
		Requests:           storage.NewMemoryRecoveryRequestStore(),
		Records:            records,
		Components:         components,
		Hierarchy:          storage.NewMemoryHierarchyStore(),
		Audit:              storage.NewSlogAuditSink(logger),
		Log:                logger,
		Delay:              cCtx.Duration(flags.RecoveryDelayFlag.Name),
		VaultComponentPath: cCtx.String(flags.VaultComponentFlag.Name),
	})
	if err != nil {
		logger.Error("Failed to create recovery manager", "err", err)
		return err
	}

	srv, err := httpserver.New(
		flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name)),
		httpserver.NewHandler(manager, logger),
	)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	return nil
}
