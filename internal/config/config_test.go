package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/ociref-server/internal/telemetry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		yamlContent string
		wantConfig  *Config
		wantErr     string
	}{
		{
			name:        "empty file",
			yamlContent: ``,
			wantConfig:  &Config{},
		},
		{
			name: "redis storage",
			yamlContent: `address: ":9000"
storage:
  type: redis
  setPrefix: curated
  redis:
    address: redis:6379
    db: 2`,
			wantConfig: &Config{
				Address: ":9000",
				Storage: StorageConfig{
					Type:      StorageTypeRedis,
					SetPrefix: "curated",
					Redis:     &RedisConfig{Address: "redis:6379", DB: 2},
				},
			},
		},
		{
			name: "postgres storage",
			yamlContent: `storage:
  type: postgres
  database:
    host: db
    port: 5432
    user: ociref
    database: ociref
    sslMode: disable
    maxOpenConns: 5
    connMaxLifetime: 30m`,
			wantConfig: &Config{
				Storage: StorageConfig{
					Type: StorageTypePostgres,
					Database: &DatabaseConfig{
						Host:            "db",
						Port:            5432,
						User:            "ociref",
						Database:        "ociref",
						SSLMode:         "disable",
						MaxOpenConns:    5,
						ConnMaxLifetime: "30m",
					},
				},
			},
		},
		{
			name: "bolt storage with telemetry",
			yamlContent: `storage:
  type: bolt
  bolt:
    path: /var/lib/ociref/refs.db
telemetry:
  enabled: true
  endpoint: otel:4318
  tracing:
    enabled: true
    sampling: 0.5
  metrics:
    enabled: true
    prometheusAddress: ":9464"`,
			wantConfig: &Config{
				Storage: StorageConfig{
					Type: StorageTypeBolt,
					Bolt: &BoltConfig{Path: "/var/lib/ociref/refs.db"},
				},
				Telemetry: &telemetry.Config{
					Enabled:  true,
					Endpoint: "otel:4318",
					Tracing:  &telemetry.TracingConfig{Enabled: true, Sampling: 0.5},
					Metrics:  &telemetry.MetricsConfig{Enabled: true, PrometheusAddress: ":9464"},
				},
			},
		},
		{
			name:        "unknown storage type",
			yamlContent: "storage:\n  type: etcd",
			wantErr:     "storage.type must be one of",
		},
		{
			name:        "postgres without database section",
			yamlContent: "storage:\n  type: postgres",
			wantErr:     "storage.database is required",
		},
		{
			name:        "set prefix with separator",
			yamlContent: "storage:\n  setPrefix: a:b",
			wantErr:     "must not contain ':'",
		},
		{
			name: "sampling out of range",
			yamlContent: `telemetry:
  enabled: true
  tracing:
    enabled: true
    sampling: 2`,
			wantErr: "sampling must be between",
		},
		{
			name:        "invalid yaml",
			yamlContent: "storage: [",
			wantErr:     "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.yamlContent)
			cfg, err := LoadConfig(WithConfigPath(path))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, cfg)
		})
	}
}

func TestLoadConfig_NoPathReturnsDefault(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, StorageTypeMemory, cfg.Storage.GetType())
	assert.Equal(t, DefaultAddress, cfg.GetAddress())
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfig(WithConfigPath(""))
		assert.ErrorContains(t, err, "path is required")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
		assert.ErrorContains(t, err, "failed to evaluate symlinks")
	})

	t.Run("symlink is resolved", func(t *testing.T) {
		t.Parallel()
		target := writeConfig(t, "address: \":7000\"")
		link := filepath.Join(t.TempDir(), "link.yaml")
		require.NoError(t, os.Symlink(target, link))

		cfg, err := LoadConfig(WithConfigPath(link))
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.Address)
	})
}

func TestStorageDefaults(t *testing.T) {
	t.Parallel()

	var s StorageConfig
	assert.Equal(t, StorageTypeMemory, s.GetType())
	assert.Equal(t, DefaultSetPrefix, s.GetSetPrefix())
	assert.Equal(t, DefaultRedisAddress, s.Redis.GetAddress())
	assert.Equal(t, DefaultBoltPath, s.Bolt.GetPath())
}

func TestDatabaseConfig_GetPassword(t *testing.T) {
	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pw")
		require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))
		t.Setenv(databasePasswordEnv, "from-env")

		d := &DatabaseConfig{PasswordFile: path}
		pw, err := d.GetPassword()
		require.NoError(t, err)
		assert.Equal(t, "s3cret", pw)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv(databasePasswordEnv, "from-env")

		d := &DatabaseConfig{}
		pw, err := d.GetPassword()
		require.NoError(t, err)
		assert.Equal(t, "from-env", pw)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv(databasePasswordEnv, "")

		d := &DatabaseConfig{}
		_, err := d.GetPassword()
		assert.ErrorContains(t, err, databasePasswordEnv)
	})

	t.Run("unreadable file", func(t *testing.T) {
		d := &DatabaseConfig{PasswordFile: filepath.Join(t.TempDir(), "missing")}
		_, err := d.GetPassword()
		assert.ErrorContains(t, err, "failed to read password from file")
	})
}

func TestDatabaseConfig_GetConnectionString(t *testing.T) {
	t.Setenv(databasePasswordEnv, "p@ss/word")

	d := &DatabaseConfig{Host: "db", Port: 5432, User: "ociref", Database: "refs"}
	conn, err := d.GetConnectionString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://ociref:p%40ss%2Fword@db:5432/refs?sslmode=require", conn)

	d.SSLMode = "disable"
	conn, err = d.GetConnectionString()
	require.NoError(t, err)
	assert.Contains(t, conn, "sslmode=disable")
}

func TestDatabaseConfig_GetConnMaxLifetime(t *testing.T) {
	t.Parallel()

	d := &DatabaseConfig{}
	got, err := d.GetConnMaxLifetime()
	require.NoError(t, err)
	assert.Zero(t, got)

	d.ConnMaxLifetime = "90s"
	got, err = d.GetConnMaxLifetime()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got)
}

func TestRedisConfig_GetPassword(t *testing.T) {
	t.Setenv(redisPasswordEnv, "")

	r := &RedisConfig{}
	pw, err := r.GetPassword()
	require.NoError(t, err)
	assert.Empty(t, pw)

	t.Setenv(redisPasswordEnv, "hunter2")
	pw, err = r.GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}
