package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"authcore.org/internal/auth"
	"authcore.org/internal/config"
	"authcore.org/internal/migrate"
	"authcore.org/internal/obs"
	"authcore.org/internal/store/pg"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("AUTHCORE_CONFIG"), "Path to YAML config")
		dsn        = flag.String("dsn", "", "PostgreSQL DSN (overrides config)")
	)
	flag.Parse()

	logger := obs.Logger()
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|status|seed]")
	}

	if *dsn != "" {
		_ = os.Setenv("AUTHCORE_DATABASE_DSN", *dsn)
	}
	_ = os.Setenv("AUTHCORE_DATABASE_DRIVER", "pg")
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		logger.WithError(err).Fatal("set log level")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		logger.WithError(err).Fatal("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrate.Embedded())

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			logger.WithField("migration", name).Info("applied")
		}
	case "down":
		var reverted string
		reverted, err = mgr.Down(ctx)
		if err == nil && reverted != "" {
			logger.WithField("migration", reverted).Info("reverted")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "seed":
		err = seed(ctx, cfg, store, logger)
	default:
		logger.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		logger.WithError(err).Fatalf("migrate %s", cmd)
	}
}

// seed creates the root account unless it already exists.
func seed(ctx context.Context, cfg *config.Config, store *pg.Store, logger logrus.FieldLogger) error {
	if err := cfg.ValidateRoot(); err != nil {
		return err
	}
	svc, err := auth.NewService(store,
		auth.WithHasher(auth.NewPasswordHasher(cfg.Password.PasswordParams, cfg.Password.Concurrency)),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	account, created, err := svc.EnsureRootAccount(ctx, cfg.Root)
	if err != nil {
		return fmt.Errorf("ensure root account: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"username":   account.Username,
		"created":    created,
	}).Info("root account ready")
	return nil
}
