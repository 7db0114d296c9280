package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ConfigurationError reports required settings that are missing or malformed
// at startup. It is fatal: bootstrap aborts before any request is served.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("omnitenant configuration invalid: missing required settings: %s",
		strings.Join(e.Missing, ", "))
}

// DBConfig holds the master database connection configuration.
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig holds the tenant cache backend configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
	Env   string
}

// JWTConfig holds JWT configuration for token-based tenant resolution.
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Prefix string
}

// Config holds all omnitenant configuration. Every field is populated with
// its final, normalized value during Load; nothing is re-read from the
// environment afterwards.
type Config struct {
	ServiceName string

	// PublicHost is the inbound host that maps to the public tenant.
	// Required: there is no sensible default for a deployment's public host.
	PublicHost string

	PublicTenantName string
	MasterTenantName string

	// MasterDBAlias is the alias of the master/default database; tenant
	// routing falls back to it when no tenant is active.
	MasterDBAlias     string
	PublicDBAlias     string
	MasterCacheAlias  string
	DefaultSchemaName string

	// TenantResolver selects the resolution strategy for inbound requests:
	// "domain", "header" or "jwt".
	TenantResolver string

	// TenantHeader is the request header consulted by the header resolver.
	TenantHeader string

	TimeZone string

	DB      DBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// Load loads configuration from a .env file (if present) and environment
// variables. The returned Config is not yet validated; call Validate before
// serving anything.
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	cfg := &Config{
		ServiceName:       serviceName,
		PublicHost:        getEnv("OMNITENANT_PUBLIC_HOST", ""),
		PublicTenantName:  getEnv("OMNITENANT_PUBLIC_TENANT_NAME", "public_omnitenant"),
		MasterTenantName:  getEnv("OMNITENANT_MASTER_TENANT_NAME", "Master"),
		MasterDBAlias:     getEnv("OMNITENANT_MASTER_DB_ALIAS", "default"),
		PublicDBAlias:     getEnv("OMNITENANT_PUBLIC_DB_ALIAS", "public"),
		MasterCacheAlias:  getEnv("OMNITENANT_MASTER_CACHE_ALIAS", "default"),
		DefaultSchemaName: getEnv("OMNITENANT_DEFAULT_SCHEMA_NAME", "public"),
		TenantResolver:    getEnv("OMNITENANT_TENANT_RESOLVER", "domain"),
		TenantHeader:      getEnv("OMNITENANT_TENANT_HEADER", "X-Tenant-ID"),
		TimeZone:          getEnv("TIME_ZONE", "UTC"),
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			Name:            getEnv("DB_NAME", serviceName),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			TimeZone:        getEnv("DB_TIME_ZONE", getEnv("TIME_ZONE", "UTC")),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			Env:   getEnv("APP_ENV", "development"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", serviceName),
		},
	}

	return cfg, nil
}

// Validate checks that every required setting is present. It returns a
// *ConfigurationError naming each missing setting so operators can fix them
// all in one pass.
func (c *Config) Validate() error {
	var missing []string

	if c.PublicHost == "" {
		missing = append(missing, "OMNITENANT_PUBLIC_HOST")
	}
	if c.MasterDBAlias == "" {
		missing = append(missing, "OMNITENANT_MASTER_DB_ALIAS")
	}
	if c.DefaultSchemaName == "" {
		missing = append(missing, "OMNITENANT_DEFAULT_SCHEMA_NAME")
	}

	switch c.TenantResolver {
	case "domain", "header", "jwt":
	default:
		missing = append(missing, "OMNITENANT_TENANT_RESOLVER (must be domain, header or jwt)")
	}

	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// LogFields returns the configuration as zap logger fields for startup logs.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Log.Env),
		zap.String("public_host", c.PublicHost),
		zap.String("master_db_alias", c.MasterDBAlias),
		zap.String("default_schema", c.DefaultSchemaName),
		zap.String("tenant_resolver", c.TenantResolver),
		zap.String("db_host", c.DB.Host),
		zap.String("db_name", c.DB.Name),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
