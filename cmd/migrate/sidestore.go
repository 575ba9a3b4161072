package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cinemaws.org/internal/store/sidestore"
)

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <dir>",
	Short: "Load Users.json and Permissions.json into the configured side-store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, grants, err := sidestore.ReadLegacy(args[0])
		if err != nil {
			return err
		}
		side, err := openSideStore(cmd.Context())
		if err != nil {
			return err
		}
		defer side.Close()

		if err := sidestore.Load(cmd.Context(), side, profiles, grants); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d profiles and %d grants into %s\n",
			len(profiles), len(grants), cfg.SideStoreDriver)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Write the side-store as profiles.json and grants.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		side, err := openSideStore(cmd.Context())
		if err != nil {
			return err
		}
		defer side.Close()

		if err := sidestore.Export(cmd.Context(), side, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported side-store to %s\n", args[0])
		return nil
	},
}
