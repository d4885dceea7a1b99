package config_test

import (
	"testing"

	"github.com/mindburn-labs/ledgerkernel/pkg/config"
	"github.com/stretchr/testify/assert"
)

// Invariant: the kernel must boot with safe defaults when no env vars are
// set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGERKERNEL_BACKEND", "")
	t.Setenv("LEDGERKERNEL_SQLITE_PATH", "")
	t.Setenv("LEDGERKERNEL_POSTGRES_DSN", "")
	t.Setenv("LEDGERKERNEL_LOG_LEVEL", "")
	t.Setenv("LEDGERKERNEL_SNAPSHOT_EVERY", "")
	t.Setenv("LEDGERKERNEL_SLA_BLOCK_ON_APPROVE", "")
	t.Setenv("LEDGERKERNEL_RBAC_BYPASS", "")
	t.Setenv("LEDGERKERNEL_WORKFLOW_BYPASS", "")
	t.Setenv("LEDGERKERNEL_LEDGER_ENABLED", "")

	cfg := config.Load()

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "ledgerkernel.db", cfg.SQLitePath)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, uint64(50), cfg.SnapshotEvery)
	assert.True(t, cfg.SLABlockOnApprove)
	assert.False(t, cfg.RBACBypass)
	assert.False(t, cfg.WorkflowBypass)
	assert.True(t, cfg.LedgerEnabled)
}

// Invariant: ops can control every setting via standard env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGERKERNEL_BACKEND", "postgres")
	t.Setenv("LEDGERKERNEL_POSTGRES_DSN", "postgres://prod/db")
	t.Setenv("LEDGERKERNEL_LOG_LEVEL", "DEBUG")
	t.Setenv("LEDGERKERNEL_SNAPSHOT_EVERY", "200")
	t.Setenv("LEDGERKERNEL_SLA_BLOCK_ON_APPROVE", "false")
	t.Setenv("LEDGERKERNEL_RBAC_BYPASS", "true")
	t.Setenv("LEDGERKERNEL_WORKFLOW_BYPASS", "true")
	t.Setenv("LEDGERKERNEL_LEDGER_ENABLED", "false")

	cfg := config.Load()

	assert.Equal(t, "postgres", cfg.Backend)
	assert.Equal(t, "postgres://prod/db", cfg.PostgresDSN)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, uint64(200), cfg.SnapshotEvery)
	assert.False(t, cfg.SLABlockOnApprove)
	assert.True(t, cfg.RBACBypass)
	assert.True(t, cfg.WorkflowBypass)
	assert.False(t, cfg.LedgerEnabled)
}

func TestLoad_InvalidSnapshotEveryFallsBackToDefault(t *testing.T) {
	t.Setenv("LEDGERKERNEL_SNAPSHOT_EVERY", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, uint64(50), cfg.SnapshotEvery)
}
