// Package config provides configuration loading and management for the reference server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/ociref-server/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables read by the server
const EnvPrefix = "OCIREF"

const (
	// StorageTypeMemory keeps references in process memory
	StorageTypeMemory = "memory"

	// StorageTypeRedis stores references in a Redis server
	StorageTypeRedis = "redis"

	// StorageTypePostgres stores references in PostgreSQL tables
	StorageTypePostgres = "postgres"

	// StorageTypeBolt stores references in a local bbolt file
	StorageTypeBolt = "bolt"
)

const (
	// DefaultAddress is the default HTTP listen address
	DefaultAddress = ":8080"

	// DefaultSetPrefix namespaces official category sets
	DefaultSetPrefix = "official"

	// DefaultRedisAddress is used when storage.redis.address is empty
	DefaultRedisAddress = "localhost:6379"

	// DefaultBoltPath is used when storage.bolt.path is empty
	DefaultBoltPath = "./data/ociref.db"
)

const (
	databasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"
	redisPasswordEnv    = EnvPrefix + "_REDIS_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Address is the HTTP listen address, overridden by --address
	Address string `yaml:"address,omitempty"`

	Storage StorageConfig `yaml:"storage"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// StorageConfig selects and configures the key-value backend
type StorageConfig struct {
	// Type is one of memory, redis, postgres or bolt. Defaults to memory.
	Type string `yaml:"type,omitempty"`

	// SetPrefix namespaces official category set keys so they never collide
	// with reference names. Defaults to "official".
	SetPrefix string `yaml:"setPrefix,omitempty"`

	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Bolt     *BoltConfig     `yaml:"bolt,omitempty"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Username string `yaml:"username,omitempty"`

	// PasswordFile is the path to a file containing the Redis password
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// BoltConfig defines the embedded bbolt store
type BoltConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the configuration used when no file is given: an
// in-memory store on DefaultAddress with telemetry disabled.
func Default() *Config {
	return &Config{
		Address: DefaultAddress,
		Storage: StorageConfig{
			Type:      StorageTypeMemory,
			SetPrefix: DefaultSetPrefix,
		},
	}
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from OCIREF_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	password, ok, err := readSecret(d.PasswordFile, databasePasswordEnv)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf(
			"no database password configured: set passwordFile or %s environment variable", databasePasswordEnv,
		)
	}
	return password, nil
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetConnMaxLifetime parses ConnMaxLifetime, returning zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() (time.Duration, error) {
	if d.ConnMaxLifetime == "" {
		return 0, nil
	}
	return time.ParseDuration(d.ConnMaxLifetime)
}

// GetPassword returns the Redis password from PasswordFile or
// OCIREF_REDIS_PASSWORD. Unlike the database, Redis may run without one.
func (r *RedisConfig) GetPassword() (string, error) {
	password, _, err := readSecret(r.PasswordFile, redisPasswordEnv)
	return password, err
}

// GetAddress returns the Redis address, using the default if not specified
func (r *RedisConfig) GetAddress() string {
	if r == nil || r.Address == "" {
		return DefaultRedisAddress
	}
	return r.Address
}

// GetPath returns the bolt file path, using the default if not specified
func (b *BoltConfig) GetPath() string {
	if b == nil || b.Path == "" {
		return DefaultBoltPath
	}
	return b.Path
}

// GetType returns the storage type, defaulting to memory
func (s *StorageConfig) GetType() string {
	if s.Type == "" {
		return StorageTypeMemory
	}
	return s.Type
}

// GetSetPrefix returns the official set prefix, defaulting to "official"
func (s *StorageConfig) GetSetPrefix() string {
	if s.SetPrefix == "" {
		return DefaultSetPrefix
	}
	return s.SetPrefix
}

// GetAddress returns the HTTP listen address, using the default if not specified
func (c *Config) GetAddress() string {
	if c.Address == "" {
		return DefaultAddress
	}
	return c.Address
}

// readSecret reads a trimmed secret from path, falling back to env.
func readSecret(path, env string) (string, bool, error) {
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return "", false, fmt.Errorf("failed to read password from file %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), true, nil
	}

	if v := os.Getenv(env); v != "" {
		return v, true, nil
	}
	return "", false, nil
}

// LoadConfig loads configuration from a YAML file, or returns Default when
// no path option is given
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateStorage(&c.Storage); err != nil {
		return err
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	if strings.Contains(s.SetPrefix, ":") {
		return fmt.Errorf("storage.setPrefix must not contain ':', got %q", s.SetPrefix)
	}

	switch s.GetType() {
	case StorageTypeMemory, StorageTypeRedis:
		return nil
	case StorageTypePostgres:
		return validateDatabaseConfig(s.Database, "storage.database")
	case StorageTypeBolt:
		return nil
	default:
		return fmt.Errorf("storage.type must be one of %s, %s, %s or %s, got %q",
			StorageTypeMemory, StorageTypeRedis, StorageTypePostgres, StorageTypeBolt, s.Type)
	}
}

func validateDatabaseConfig(db *DatabaseConfig, prefix string) error {
	if db == nil {
		return fmt.Errorf("%s is required when storage.type is %s", prefix, StorageTypePostgres)
	}
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, db.Port)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Database == "" {
		return fmt.Errorf("%s.database is required", prefix)
	}
	if db.MaxOpenConns < 0 {
		return fmt.Errorf("%s.maxOpenConns must not be negative, got %d", prefix, db.MaxOpenConns)
	}
	if _, err := db.GetConnMaxLifetime(); err != nil {
		return fmt.Errorf("%s.connMaxLifetime must be a valid duration (e.g., '30m', '1h'): %w", prefix, err)
	}
	return nil
}
