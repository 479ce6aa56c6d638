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

const minimalYAML = `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: multas
    user: portal
  redis:
    address: localhost:6379
workers:
  refresh-alerts:
    enabled: true
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Alerts.DefaultIntervalDays)
	assert.Equal(t, 3, cfg.Alerts.UrgentAfterDays)
	assert.Equal(t, 3, cfg.Wallet.MaxDeductAttempts)
	assert.Equal(t, "wallet:audit:pending", cfg.Wallet.AuditQueueKey)
	assert.Equal(t, "faturamento", cfg.Billing.Index)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, ":8080", cfg.Server.Address)

	w := cfg.Workers["refresh-alerts"]
	assert.True(t, w.Enabled)
	assert.Equal(t, 10, w.MaxJobsActive)
	assert.Equal(t, 30000, w.Timeout)
	assert.Equal(t, 3, w.MaxRetries)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	cfg, err := LoadFromFile(writeConfig(t, `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: multas
    user: portal
    password: ${TEST_PG_PASSWORD}
  redis:
    address: localhost:6379
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing broker",
			body: `
database:
  postgres: {host: h, database: d, user: u}
  redis: {address: r}
`,
			want: "camunda.broker_address",
		},
		{
			name: "missing redis",
			body: `
camunda: {broker_address: b}
database:
  postgres: {host: h, database: d, user: u}
`,
			want: "database.redis.address",
		},
		{
			name: "email without sender",
			body: minimalYAML + `
notifications:
  email:
    enabled: true
`,
			want: "from_email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetWorkerConfig_Fallback(t *testing.T) {
	cfg := &Config{Camunda: CamundaConfig{MaxJobsActive: 4, Timeout: 1500}}

	w := GetWorkerConfig(cfg, "deduct-balance")
	assert.True(t, w.Enabled)
	assert.Equal(t, 4, w.MaxJobsActive)
	assert.Equal(t, 1500*time.Millisecond, GetDuration(w.Timeout))
	assert.True(t, IsWorkerEnabled(cfg, "deduct-balance"))
}

func TestPostgresConfig_GetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "multas", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=multas sslmode=require", p.GetDSN())
}
