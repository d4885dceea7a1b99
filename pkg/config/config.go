// Package config loads the kernel's environment-variable configuration:
// which storage backend to open, the log level, how often to snapshot, the
// SLA blocking mode, the RBAC/workflow gate bypasses, and whether the
// enterprise ledger is enabled.
package config

import (
	"os"
	"strconv"
)

// Config holds the settings cmd/auditledgerd (or any other host process)
// needs to wire up an Engine.
type Config struct {
	// Backend selects the store implementation: "sqlite" or "postgres".
	Backend string
	// SQLitePath is the file path opened when Backend is "sqlite".
	SQLitePath string
	// PostgresDSN is the connection string opened when Backend is
	// "postgres".
	PostgresDSN string

	LogLevel string

	// SnapshotEvery is how many events accumulate between automatic
	// snapshot+anchor emission. 0 disables automatic snapshotting.
	SnapshotEvery uint64

	// SLABlockOnApprove mirrors policy.SLAMode: true blocks an APPROVE
	// against an open SLA breach, false blocks on any event.
	SLABlockOnApprove bool

	// RBACBypass and WorkflowBypass disable their respective gates —
	// useful for a demo/bootstrap run, never for a production one.
	RBACBypass     bool
	WorkflowBypass bool

	// LedgerEnabled turns on the optional enterprise audit ledger.
	LedgerEnabled bool
}

// Load reads configuration from the environment, falling back to
// development-safe defaults for anything unset.
func Load() *Config {
	backend := os.Getenv("LEDGERKERNEL_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}

	sqlitePath := os.Getenv("LEDGERKERNEL_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "ledgerkernel.db"
	}

	dsn := os.Getenv("LEDGERKERNEL_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://ledgerkernel@localhost:5432/ledgerkernel?sslmode=disable"
	}

	logLevel := os.Getenv("LEDGERKERNEL_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	snapshotEvery := parseUint(os.Getenv("LEDGERKERNEL_SNAPSHOT_EVERY"), 50)

	return &Config{
		Backend:           backend,
		SQLitePath:        sqlitePath,
		PostgresDSN:       dsn,
		LogLevel:          logLevel,
		SnapshotEvery:     snapshotEvery,
		SLABlockOnApprove: os.Getenv("LEDGERKERNEL_SLA_BLOCK_ON_APPROVE") != "false",
		RBACBypass:        os.Getenv("LEDGERKERNEL_RBAC_BYPASS") == "true",
		WorkflowBypass:    os.Getenv("LEDGERKERNEL_WORKFLOW_BYPASS") == "true",
		LedgerEnabled:     os.Getenv("LEDGERKERNEL_LEDGER_ENABLED") != "false",
	}
}

func parseUint(s string, def uint64) uint64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
