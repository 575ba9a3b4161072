package identity

import "strings"

const (
	PermViewSubscriptions   = "View Subscriptions"
	PermCreateSubscriptions = "Create Subscriptions"
	PermDeleteSubscriptions = "Delete Subscriptions"
	PermUpdateSubscriptions = "Update Subscriptions"
	PermViewMovies          = "View Movies"
	PermCreateMovies        = "Create Movies"
	PermDeleteMovies        = "Delete Movies"
	PermUpdateMovies        = "Update Movies"
)

// Vocabulary lists every grantable permission in canonical order.
var Vocabulary = []string{
	PermViewSubscriptions,
	PermCreateSubscriptions,
	PermDeleteSubscriptions,
	PermUpdateSubscriptions,
	PermViewMovies,
	PermCreateMovies,
	PermDeleteMovies,
	PermUpdateMovies,
}

var implied = map[string]string{
	PermCreateSubscriptions: PermViewSubscriptions,
	PermDeleteSubscriptions: PermViewSubscriptions,
	PermUpdateSubscriptions: PermViewSubscriptions,
	PermCreateMovies:        PermViewMovies,
	PermDeleteMovies:        PermViewMovies,
	PermUpdateMovies:        PermViewMovies,
}

// NormalizePermissions validates perms against Vocabulary, drops duplicates,
// adds the View permission implied by any Create/Update/Delete, and returns
// the result in canonical order.
func NormalizePermissions(perms []string) ([]string, error) {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !known(p) {
			return nil, invalidInput("unknown permission %q", p)
		}
		set[p] = struct{}{}
		if view, ok := implied[p]; ok {
			set[view] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for _, p := range Vocabulary {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func known(perm string) bool {
	for _, p := range Vocabulary {
		if p == perm {
			return true
		}
	}
	return false
}
