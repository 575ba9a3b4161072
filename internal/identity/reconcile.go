package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cinemaws.org/internal/obs"
)

// ReconcileReport lists the cross-store gaps found by Reconcile.
type ReconcileReport struct {
	MissingProfile []string
	MissingGrant   []string
	OrphanProfiles []string
	OrphanGrants   []string
	// Repaired counts orphan side rows deleted in repair mode.
	Repaired int
}

// Consistent reports whether no gap was found.
func (r ReconcileReport) Consistent() bool {
	return len(r.MissingProfile) == 0 && len(r.MissingGrant) == 0 &&
		len(r.OrphanProfiles) == 0 && len(r.OrphanGrants) == 0
}

// Reconcile compares both stores. With repair set, side rows whose account no
// longer exists are deleted. Accounts missing side rows are only reported:
// an administrator has to supply the profile through UpdateAccount.
func (s *Service) Reconcile(ctx context.Context, repair bool) (report ReconcileReport, err error) {
	defer func() { obs.ObserveIdentityOp("reconcile", err) }()

	// Side rows are read first. Accounts are written before their side rows,
	// so an account created in between shows up as missing rows, never as
	// an orphan to delete.
	profiles, grants, err := s.sideIndex(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile: %w", err)
	}
	accounts, err := s.creds.List(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile: list accounts: %w", err)
	}

	known := make(map[string]struct{}, len(accounts))
	for _, acct := range accounts {
		known[acct.ID] = struct{}{}
		if _, ok := profiles[acct.ID]; !ok {
			report.MissingProfile = append(report.MissingProfile, acct.ID)
		}
		if _, ok := grants[acct.ID]; !ok {
			report.MissingGrant = append(report.MissingGrant, acct.ID)
		}
	}
	for id := range profiles {
		if _, ok := known[id]; !ok {
			report.OrphanProfiles = append(report.OrphanProfiles, id)
		}
	}
	for id := range grants {
		if _, ok := known[id]; !ok {
			report.OrphanGrants = append(report.OrphanGrants, id)
		}
	}
	sort.Strings(report.OrphanProfiles)
	sort.Strings(report.OrphanGrants)

	if !repair {
		return report, nil
	}
	var errs []error
	for _, id := range report.OrphanProfiles {
		if err := s.side.DeleteProfile(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete profile %s: %w", id, err))
			continue
		}
		report.Repaired++
	}
	for _, id := range report.OrphanGrants {
		if err := s.side.DeleteGrant(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete grant %s: %w", id, err))
			continue
		}
		report.Repaired++
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("reconcile: %w", errors.Join(errs...))
	}
	return report, nil
}
