package tenant

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Store is the persistence surface for tenant and domain records. Records
// always live in the master database regardless of any active tenant.
type Store interface {
	ByTenantID(ctx context.Context, tenantID string) (*Tenant, error)
	ByDomain(ctx context.Context, domain string) (*Tenant, error)
	List(ctx context.Context, isolation IsolationType) ([]Tenant, error)
	Create(ctx context.Context, t *Tenant) error
	Update(ctx context.Context, t *Tenant) error
	Delete(ctx context.Context, tenantID string) error
}

// GormStore implements Store against the master database connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by the given master connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ByTenantID looks a tenant up by its external identifier.
func (s *GormStore) ByTenantID(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Ref: tenantID}
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ByDomain resolves an inbound host to its tenant via the domain table.
func (s *GormStore) ByDomain(ctx context.Context, domain string) (*Tenant, error) {
	var d Domain
	err := s.db.WithContext(ctx).Preload("Tenant").Where("domain = ?", domain).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Ref: domain}
	}
	if err != nil {
		return nil, err
	}
	return &d.Tenant, nil
}

// List returns all tenants, optionally filtered by isolation type.
func (s *GormStore) List(ctx context.Context, isolation IsolationType) ([]Tenant, error) {
	query := s.db.WithContext(ctx).Model(&Tenant{})
	if isolation != "" {
		query = query.Where("isolation_type = ?", isolation)
	}
	var tenants []Tenant
	if err := query.Order("tenant_id").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// Create persists a new tenant record.
func (s *GormStore) Create(ctx context.Context, t *Tenant) error {
	if !t.IsolationType.Valid() {
		return fmt.Errorf("invalid isolation type %q for tenant %q", t.IsolationType, t.TenantID)
	}
	return s.db.WithContext(ctx).Create(t).Error
}

// Update persists metadata changes (name, config). The isolation type is
// immutable: changing it would orphan data provisioned under the old
// strategy, so any attempt is rejected here rather than at the database.
func (s *GormStore) Update(ctx context.Context, t *Tenant) error {
	existing, err := s.ByTenantID(ctx, t.TenantID)
	if err != nil {
		return err
	}
	if existing.IsolationType != t.IsolationType {
		return fmt.Errorf("isolation type of tenant %q is immutable (%s -> %s not supported)",
			t.TenantID, existing.IsolationType, t.IsolationType)
	}
	return s.db.WithContext(ctx).Model(&Tenant{}).
		Where("tenant_id = ?", t.TenantID).
		Updates(map[string]interface{}{"name": t.Name, "config": t.Config}).Error
}

// Delete removes the tenant record and its domains. The physical
// destination is handled by the backend, not here.
func (s *GormStore) Delete(ctx context.Context, tenantID string) error {
	t, err := s.ByTenantID(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("tenant_ref = ?", t.ID).Delete(&Domain{}).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(t).Error
}
