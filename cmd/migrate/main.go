// Command migrate manages the credential schema and the side-store data of a
// cinemaws deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cinemaws.org/internal/config"
	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/migrate"
	"cinemaws.org/internal/store/pg"
	pgmigrations "cinemaws.org/internal/store/pg/migrations"
	"cinemaws.org/internal/store/sidestore"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Schema and data maintenance for cinemaws",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		return err
	},
}

func init() {
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
	rootCmd.AddCommand(importLegacyCmd, exportCmd)
	rootCmd.AddCommand(reconcileCmd, bootstrapAdminCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func openCredentials() (*pg.Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("missing DSN: set CINEMA_PG_DSN")
	}
	return pg.Open(cfg.PostgresDSN)
}

func schemaManager(creds *pg.Store) *migrate.Manager {
	return migrate.NewManager(creds.DB(), pgmigrations.FS)
}

func openSideStore(ctx context.Context) (sidestore.Store, error) {
	return sidestore.Open(ctx, cfg.SideStoreDriver, cfg.SideStorePath)
}

// openService wires both stores without a token issuer; nothing here signs
// anyone in.
func openService(ctx context.Context) (*identity.Service, func(), error) {
	creds, err := openCredentials()
	if err != nil {
		return nil, nil, err
	}
	side, err := openSideStore(ctx)
	if err != nil {
		creds.Close()
		return nil, nil, err
	}
	closeAll := func() {
		side.Close()
		creds.Close()
	}
	svc, err := identity.NewService(creds, side, nil,
		identity.WithHashCost(cfg.BcryptCost),
		identity.WithAdminUsername(cfg.AdminUsername),
	)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return svc, closeAll, nil
}
