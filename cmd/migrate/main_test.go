package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
)

// execute runs the root command with args. Every case here fails argument
// validation, so no database is contacted.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	return root.Execute()
}

func TestCommands_RejectInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "up negative steps", args: []string{"up", "--steps", "-2"}, want: "--steps must not be negative"},
		{name: "down zero steps", args: []string{"down", "--steps", "0"}, want: "--steps must be at least 1"},
		{name: "down steps and all", args: []string{"down", "--steps", "2", "--all"}, want: "none of the others can be"},
		{name: "force without version", args: []string{"force"}, want: "accepts 1 arg"},
		{name: "force non-numeric", args: []string{"force", "latest"}, want: "invalid version"},
		{name: "force below nil version", args: []string{"force", "--", "-3"}, want: "must be -1"},
		{name: "prune negative retention", args: []string{"prune", "--older-than", "-1h"}, want: "--older-than must not be negative"},
		{name: "status extra args", args: []string{"status", "now"}, want: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseForceVersion(t *testing.T) {
	v, err := parseForceVersion("2")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = parseForceVersion("-1")
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

func TestPlanRetention(t *testing.T) {
	drs := config.DRSConfig{PlanRetention: 72 * time.Hour}

	got, err := planRetention(time.Hour, drs)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got, "flag wins over config")

	got, err = planRetention(0, drs)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, got)

	_, err = planRetention(0, config.DRSConfig{})
	assert.Error(t, err)
}

func TestReport_NoChangeIsSuccess(t *testing.T) {
	logger := zap.NewNop()
	assert.NoError(t, report(logger, "done", nil))
	assert.NoError(t, report(logger, "done", migrate.ErrNoChange))
	assert.Error(t, report(logger, "done", assert.AnError))
}

func TestMigrateLogger_Verbose(t *testing.T) {
	l := &migrateLogger{logger: zap.NewNop().Sugar(), verbose: true}
	l.Printf("applied %d", 1)
	assert.True(t, l.Verbose())
}
