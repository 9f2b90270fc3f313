// Package main is the entry point for the seriescope core.
//
// Its job is wiring, in dependency order: configuration, logging, the
// three store files, the master key, the services, and finally the session
// manager the dashboard front end drives in-process. Any store that cannot
// be opened is fatal: there is no degraded mode without persistence.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sakif/seriescope/internal/auth"
	"github.com/sakif/seriescope/internal/config"
	"github.com/sakif/seriescope/internal/repository/sqlite"
	"github.com/sakif/seriescope/internal/service"
	"github.com/sakif/seriescope/internal/session"
	"github.com/sakif/seriescope/internal/vault"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 0700: the data directory holds password hashes, ciphertext, and the
	// master key file; nobody but the owner has business in it.
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	// Master key parent may differ from DataDir if overridden.
	if err := os.MkdirAll(filepath.Dir(cfg.MasterKeyPath), 0o700); err != nil {
		return err
	}

	users, err := sqlite.NewUserDB(cfg.UsersDBPath)
	if err != nil {
		return err
	}
	defer users.Close()

	vaultDB, err := sqlite.NewVaultDB(cfg.VaultDBPath)
	if err != nil {
		return err
	}
	defer vaultDB.Close()

	history, err := sqlite.NewHistoryDB(cfg.HistoryDBPath)
	if err != nil {
		return err
	}
	defer history.Close()

	masterKey, err := vault.LoadOrCreateKey(cfg.MasterKeyPath)
	if err != nil {
		return err
	}

	passwords, err := auth.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.SessionTTL)
	if err != nil {
		return err
	}
	credVault, err := vault.New(masterKey, vaultDB, logger)
	if err != nil {
		return err
	}

	identitySvc := service.NewIdentityService(users, passwords, logger)
	historySvc := service.NewHistoryService(history, cfg.OutlierThreshold, logger)

	manager := session.NewManager(session.Config{
		Identity:             identitySvc,
		Vault:                credVault,
		History:              historySvc,
		Tokens:               tokens,
		Logger:               logger,
		SessionTTL:           cfg.SessionTTL,
		PurgeHistoryOnDelete: cfg.PurgeHistoryOnDelete,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	needsBootstrap, err := manager.NeedsBootstrap(ctx)
	if err != nil {
		return err
	}
	if needsBootstrap {
		logger.Info("no users exist yet; the first login screen will run the admin bootstrap")
	}

	logger.Info("seriescope core ready",
		slog.String("dataDir", cfg.DataDir),
		slog.Float64("outlierThreshold", cfg.OutlierThreshold),
	)

	// The dashboard front end drives the session manager in-process; this
	// goroutine only holds the stores open until shutdown.
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
