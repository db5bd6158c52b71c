package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, 1, cfg.Analysis.Cost)
	assert.Equal(t, int64(50<<20), cfg.Analysis.MaxUploadBytes)
	assert.Equal(t, 30*24*time.Hour, cfg.ShareTTL())
	assert.Equal(t, cfg.Database.Path, cfg.DSN())
}

func TestLoad_FileThenEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  writeTimeout: 90s
database:
  driver: MySQL
  host: db
  user: app
  password: pw
  name: contracts
minio:
  endpoint: minio:9000
  bucketName: originals
  accessKey: from-file
auth:
  jwtSecret: file-secret
  adminKeys:
    ops: k1
openai:
  model: gpt-4.1
  maxTokens: 20000
rateLimit:
  trustedProxies: ["10.0.0.0/8"]
`)
	t.Setenv("MINIO_ACCESS_KEY", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ADMIN_API_KEY", "k2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, "from-env", cfg.Minio.AccessKey)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.OpenAI.Model)
	assert.Equal(t, 20000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.RateLimit.TrustedProxies)
	assert.Equal(t, map[string]string{"ops": "k1", "env": "k2"}, cfg.Auth.AdminKeys)
	assert.Equal(t, "app:pw@tcp(db:3306)/contracts?parseTime=true&charset=utf8mb4&loc=UTC", cfg.DSN())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_DRIVER", "")
	_, err := Load(writeConfig(t, "database: [oops"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "auth:\n  jwtSecret: x\ndatabase:\n  driver: oracle\n"))
	assert.ErrorContains(t, err, "database.driver")

	_, err = Load(writeConfig(t, "auth:\n  jwtSecret: x\nstorage:\n  driver: minio\n"))
	assert.ErrorContains(t, err, "minio")

	_, err = Load(writeConfig(t, "server:\n  port: 1\n"))
	assert.ErrorContains(t, err, "jwtSecret")
}

func TestPostgresDSN(t *testing.T) {
	var c Config
	c.Database.Driver = "postgres"
	c.Database.Host = "pg"
	c.Database.User = "app"
	c.Database.Password = "p@ss"
	c.Database.Name = "contracts"
	c.applyDefaults()
	assert.Equal(t, "postgres://app:p%40ss@pg:5432/contracts?sslmode=disable", c.DSN())

	c.Database.DSN = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
