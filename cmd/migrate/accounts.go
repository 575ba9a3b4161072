package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cinemaws.org/internal/identity"
)

var repair bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report accounts whose profile or grant is missing, and orphaned side rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeAll, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeAll()

		report, err := svc.Reconcile(cmd.Context(), repair)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GAP\tCOUNT\tIDS")
		row := func(name string, ids []string) {
			fmt.Fprintf(w, "%s\t%d\t%s\n", name, len(ids), strings.Join(ids, ", "))
		}
		row("missing profile", report.MissingProfile)
		row("missing grant", report.MissingGrant)
		row("orphan profile", report.OrphanProfiles)
		row("orphan grant", report.OrphanGrants)
		w.Flush()

		if repair {
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d orphan rows\n", report.Repaired)
		}
		if !report.Consistent() && !repair {
			return fmt.Errorf("stores are inconsistent")
		}
		return nil
	},
}

var admin struct {
	username  string
	firstName string
	lastName  string
	timeout   int
}

var bootstrapAdminCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Provision the staff-admin account with every permission",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username := admin.username
		if username == "" {
			username = cfg.AdminUsername
		}
		if username == "" {
			return fmt.Errorf("--username or CINEMA_ADMIN_USERNAME is required")
		}
		svc, closeAll, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeAll()

		view, err := svc.CreateAccount(cmd.Context(), identity.NewAccount{
			Username:              username,
			FirstName:             admin.firstName,
			LastName:              admin.lastName,
			SessionTimeoutMinutes: admin.timeout,
			Permissions:           append([]string(nil), identity.Vocabulary...),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s (%s); register a password through /users/register\n", view.Username, view.ID)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&repair, "repair", false, "delete side rows whose account no longer exists")

	f := bootstrapAdminCmd.Flags()
	f.StringVar(&admin.username, "username", "", "admin username (defaults to CINEMA_ADMIN_USERNAME)")
	f.StringVar(&admin.firstName, "first-name", "Staff", "first name")
	f.StringVar(&admin.lastName, "last-name", "Admin", "last name")
	f.IntVar(&admin.timeout, "session-timeout", 60, "session timeout in minutes")
}
