package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cinemaws.org/internal/migrate"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending credential-store migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := openCredentials()
		if err != nil {
			return err
		}
		defer creds.Close()

		applied, err := schemaManager(creds).Up(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent credential-store migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := openCredentials()
		if err != nil {
			return err
		}
		defer creds.Close()

		name, err := schemaManager(creds).Down(cmd.Context())
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := openCredentials()
		if err != nil {
			return err
		}
		defer creds.Close()

		mgr := schemaManager(creds)
		history, err := mgr.Status(cmd.Context())
		if err != nil {
			return err
		}
		pending, err := mgr.Pending(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, item := range history {
			fmt.Fprintln(out, item)
		}
		for _, name := range pending {
			fmt.Fprintf(out, "pending %s\n", name)
		}
		return nil
	},
}
