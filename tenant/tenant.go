package tenant

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// IsolationType selects the physical mechanism that separates a tenant's
// data from every other tenant's.
type IsolationType string

const (
	// IsolationDatabase gives the tenant its own database, possibly on its
	// own server.
	IsolationDatabase IsolationType = "DATABASE"
	// IsolationSchema gives the tenant its own schema inside the shared
	// master database.
	IsolationSchema IsolationType = "SCHEMA"
	// IsolationTable keeps tenants in shared tables scoped by a tenant
	// column.
	IsolationTable IsolationType = "TABLE"
)

// Valid reports whether t is one of the known isolation types.
func (t IsolationType) Valid() bool {
	switch t {
	case IsolationDatabase, IsolationSchema, IsolationTable:
		return true
	}
	return false
}

// ParseIsolationType parses a case-insensitive isolation type name.
func ParseIsolationType(s string) (IsolationType, error) {
	switch IsolationType(s) {
	case IsolationDatabase, "database":
		return IsolationDatabase, nil
	case IsolationSchema, "schema":
		return IsolationSchema, nil
	case IsolationTable, "table":
		return IsolationTable, nil
	}
	return "", fmt.Errorf("invalid isolation type %q (valid: DATABASE, SCHEMA, TABLE)", s)
}

// Scope classifies where a kind of data legitimately lives.
type Scope string

const (
	// ScopeMaster data lives only in the master/default database.
	ScopeMaster Scope = "master"
	// ScopeTenant data lives only in the tenant's own isolated location.
	ScopeTenant Scope = "tenant"
	// ScopeShared data is permitted in both.
	ScopeShared Scope = "shared"
)

// Scoped is implemented by models that declare their own scope, overriding
// the default scope of the app they are registered under.
type Scoped interface {
	TenantScope() Scope
}

// JSONMap is a free-form configuration map persisted as JSONB.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(data, m)
}

// Tenant represents one isolated customer. The isolation type is immutable
// after creation: changing it would orphan the data already provisioned
// under the old strategy.
type Tenant struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	TenantID      string         `json:"tenant_id" gorm:"type:varchar(100);uniqueIndex;not null"`
	Name          string         `json:"name" gorm:"type:varchar(100);not null"`
	IsolationType IsolationType  `json:"isolation_type" gorm:"type:varchar(20);not null"`
	Config        JSONMap        `json:"config" gorm:"type:jsonb"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	Domains []Domain `json:"domains,omitempty" gorm:"foreignKey:TenantRef"`
}

// DBConfigMap returns the raw "db_config" section of the tenant's config,
// or an empty map when absent.
func (t *Tenant) DBConfigMap() map[string]interface{} {
	if t.Config == nil {
		return map[string]interface{}{}
	}
	raw, ok := t.Config["db_config"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return raw
}

// SchemaOverride returns the schema-name override for schema-isolated
// tenants, or "" when none is configured.
func (t *Tenant) SchemaOverride() string {
	if t.Config == nil {
		return ""
	}
	name, _ := t.Config["schema_name"].(string)
	return name
}

// Domain maps an inbound host to exactly one tenant.
type Domain struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Domain    string    `json:"domain" gorm:"type:varchar(255);uniqueIndex;not null"`
	TenantRef uint      `json:"tenant_ref" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantRef"`
}
