package tenant

import "fmt"

// NotFoundError indicates that a request or administrative reference could
// not be resolved to a tenant. Resolution never silently defaults to another
// tenant.
type NotFoundError struct {
	// Ref is whatever was used to look the tenant up: a host, a tenant id,
	// a token claim.
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tenant not found for %q", e.Ref)
}

// ProvisioningError indicates that creating or dropping a tenant's physical
// destination failed. Provisioning is not retried automatically; the partial
// state is left in place for inspection.
type ProvisioningError struct {
	TenantID    string
	Destination string
	Op          string
	Err         error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s failed for tenant %q destination %q: %v",
		e.Op, e.TenantID, e.Destination, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// MigrationError indicates that a schema migration failed for one tenant.
// Batch migration isolates it to the failing tenant and continues.
type MigrationError struct {
	TenantID string
	Alias    string
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed for tenant %q on alias %q: %v",
		e.TenantID, e.Alias, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
