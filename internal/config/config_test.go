package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "ouracs", cfg.Optimizer.Variant)
	require.Equal(t, 0.9, cfg.Optimizer.OverUtilization)
	require.Equal(t, "knee", cfg.Optimizer.Selection)
	require.Equal(t, 30*time.Second, cfg.Optimizer.Deadline)
	require.Equal(t, "memory", cfg.State.Backend)
	require.Equal(t, "manual", cfg.DRS.AutomationLevel)
	require.Equal(t, 117.0, cfg.Power.MaxWatts)
	require.True(t, cfg.Consolidation.EvacuateUnderloaded)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
optimizer:
  variant: liu2017
  generations: 50
  ants: 20
  selection: min-power
  seed: 42
drs:
  enabled: true
  interval: 1m
  datacenters: [dc-1, dc-2]
`)
	t.Setenv("OURACS_OPTIMIZER_ANTS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "liu2017", cfg.Optimizer.Variant)
	require.Equal(t, 50, cfg.Optimizer.Generations)
	require.Equal(t, 12, cfg.Optimizer.Ants)
	require.Equal(t, uint64(42), cfg.Optimizer.Seed)
	require.Equal(t, []string{"dc-1", "dc-2"}, cfg.DRS.Datacenters)

	sc := cfg.Optimizer.Scheduler()
	require.Equal(t, 12, sc.Ants)
	require.Equal(t, "min-power", cfg.Optimizer.Service().Selection)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown variant", "optimizer:\n  variant: liu2099\n", ""},
		{"threshold above one", "optimizer:\n  over_utilization: 1.5\n", "over_utilization"},
		{"unknown selection", "optimizer:\n  selection: best\n", "selection"},
		{"unknown state backend", "state:\n  backend: s3\n", "state.backend"},
		{"redis backend disabled", "state:\n  backend: redis\n", "state.backend"},
		{"automation level", "drs:\n  automation_level: partial\n", "drs.automation_level"},
		{"auth without secret", "auth:\n  enabled: true\n  jwt_secret: \"\"\n", "auth.jwt_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrInvalidArgument))

			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			if tt.field != "" {
				require.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "ouracs", SSLMode: "disable"}
	require.Equal(t, "postgres://u:p@db:5432/ouracs?sslmode=disable", c.URL())
	require.Equal(t, "host=db port=5432 user=u password=p dbname=ouracs sslmode=disable", c.DSN())
}
