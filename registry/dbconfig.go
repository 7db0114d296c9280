package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBConfig is the resolved connection configuration for one database alias.
// It is populated once from the persisted tenant config map (uppercase keys:
// NAME, USER, PASSWORD, HOST, PORT, ENGINE, ALIAS, ...) and never consulted
// case-insensitively afterwards.
type DBConfig struct {
	Engine          string
	Name            string
	User            string
	Password        string
	Host            string
	Port            string
	Alias           string
	SSLMode         string
	TimeZone        string
	Options         map[string]string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.TimeZone)
}

// AdminDSN returns a connection string for the server's administrative
// database, used for CREATE/DROP DATABASE statements that cannot run against
// the database they target.
func (c DBConfig) AdminDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
}

// ParseDBConfig converts a persisted db_config map into a DBConfig. Key case
// is normalized here, in this single parse step; numeric values may arrive
// as JSON numbers or strings.
func ParseDBConfig(raw map[string]interface{}) DBConfig {
	var cfg DBConfig
	for key, value := range raw {
		switch strings.ToUpper(key) {
		case "ENGINE":
			cfg.Engine = asString(value)
		case "NAME":
			cfg.Name = asString(value)
		case "USER":
			cfg.User = asString(value)
		case "PASSWORD":
			cfg.Password = asString(value)
		case "HOST":
			cfg.Host = asString(value)
		case "PORT":
			cfg.Port = asString(value)
		case "ALIAS":
			cfg.Alias = asString(value)
		case "SSLMODE", "SSL_MODE":
			cfg.SSLMode = asString(value)
		case "TIME_ZONE":
			cfg.TimeZone = asString(value)
		case "OPTIONS":
			if opts, ok := value.(map[string]interface{}); ok {
				cfg.Options = make(map[string]string, len(opts))
				for k, v := range opts {
					cfg.Options[k] = asString(v)
				}
			}
		case "MAX_IDLE_CONNS":
			cfg.MaxIdleConns = asInt(value)
		case "MAX_OPEN_CONNS":
			cfg.MaxOpenConns = asInt(value)
		case "CONN_MAX_LIFETIME":
			cfg.ConnMaxLifetime = asDuration(value)
		}
	}
	return cfg
}

// Resolve merges the tenant's config over the master config field by field.
// Every individual field falls back independently to the master value, then
// to a hard default; there is no whole-object override.
func (c DBConfig) Resolve(master DBConfig) DBConfig {
	resolved := DBConfig{
		Engine:          firstNonEmpty(c.Engine, master.Engine, "postgres"),
		Name:            firstNonEmpty(c.Name, master.Name),
		User:            firstNonEmpty(c.User, master.User),
		Password:        firstNonEmpty(c.Password, master.Password),
		Host:            firstNonEmpty(c.Host, master.Host, "localhost"),
		Port:            firstNonEmpty(c.Port, master.Port, "5432"),
		Alias:           c.Alias,
		SSLMode:         firstNonEmpty(c.SSLMode, master.SSLMode, "disable"),
		TimeZone:        firstNonEmpty(c.TimeZone, master.TimeZone, "UTC"),
		Options:         c.Options,
		MaxIdleConns:    firstPositive(c.MaxIdleConns, master.MaxIdleConns, 10),
		MaxOpenConns:    firstPositive(c.MaxOpenConns, master.MaxOpenConns, 100),
		ConnMaxLifetime: firstDuration(c.ConnMaxLifetime, master.ConnMaxLifetime, time.Hour),
	}
	if resolved.Options == nil {
		resolved.Options = master.Options
	}
	return resolved
}

// AliasFor determines the registry alias for a tenant database config:
// explicit ALIAS, else the database NAME, else the given fallback.
func AliasFor(cfg DBConfig, fallback string) string {
	if cfg.Alias != "" {
		return cfg.Alias
	}
	if cfg.Name != "" {
		return cfg.Name
	}
	return fallback
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; ports and the like are integral.
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt(value interface{}) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func asDuration(value interface{}) time.Duration {
	switch v := value.(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case float64:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
