// Package tenants decides which identity servers the service may talk to.
// Page URLs come from the caller, so every resolved environment is checked
// against the registry before any request leaves the process.
package tenants

import (
	"context"
	"errors"
)

var ErrUnknownTenant = errors.New("tenant not found")

// Tenant is one allowed identity server. Realms restricts it to the listed
// realms; empty allows any realm on that origin.
type Tenant struct {
	Origin string
	Realms []string
}

func (t Tenant) allowsRealm(realm string) bool {
	if len(t.Realms) == 0 {
		return true
	}
	for _, r := range t.Realms {
		if r == realm {
			return true
		}
	}
	return false
}

type Provider interface {
	// Resolve tenant from the identity server origin and realm of a page.
	ResolveTenantByOrigin(ctx context.Context, origin, realm string) (Tenant, error)
}
