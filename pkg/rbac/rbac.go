// Package rbac declares the staff roles checked by RequireRole and the approval workflow.
package rbac

import "slices"

const (
	Admin   = "admin"
	Maker   = "maker"
	Checker = "checker"
	Viewer  = "viewer"
)

// All lists every known role.
func All() []string {
	return []string{Admin, Maker, Checker, Viewer}
}

// Readers may call any read-only endpoint.
func Readers() []string {
	return All()
}

// Makers may submit approval requests and post operational transactions.
func Makers() []string {
	return []string{Admin, Maker}
}

// Checkers may decide approval requests.
func Checkers() []string {
	return []string{Admin, Checker}
}

func IsKnown(role string) bool {
	return slices.Contains(All(), role)
}
