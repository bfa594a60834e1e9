package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("test-version")

	require.NoError(t, err)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "127.0.0.1", cfg.BindAddr)
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "migrations", cfg.MigrationsPath)
	assert.False(t, cfg.Oracle.IsAvailable())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("ORACLE_ENDPOINT", "https://llm.internal/v1")
	t.Setenv("ORACLE_MODEL", "gpt-4o-mini")
	t.Setenv("ORACLE_API_KEY", "secret")

	cfg, err := Load("dev")

	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Oracle.IsAvailable())
	assert.Equal(t, "secret", cfg.Oracle.APIKey)
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "tapline",
		Password: "pw",
		Database: "mapping_engine",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=tapline password=pw dbname=mapping_engine sslmode=disable",
		db.ConnectionString())
}

func TestOracleConfig_IsAvailable(t *testing.T) {
	assert.False(t, (&OracleConfig{Endpoint: "https://x"}).IsAvailable())
	assert.False(t, (&OracleConfig{Model: "m"}).IsAvailable())
	assert.True(t, (&OracleConfig{Endpoint: "https://x", Model: "m"}).IsAvailable())
}
