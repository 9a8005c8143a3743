package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"backoffice-service/config"
	"backoffice-service/internal/store"
	"backoffice-service/internal/util"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "backoffice-admin",
		Short:         "Operator tools for the back-office service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(countersCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(itemsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env holds what every subcommand opens
type env struct {
	cfg   *config.Config
	store *store.Store
}

func openEnv() (*env, error) {
	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, store: db}, nil
}

func (e *env) Close() {
	e.store.Close()
	util.SyncLogger()
}
